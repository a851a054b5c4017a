package main

import (
	"github.com/sunsreach/nerris/internal/cli"
	"github.com/sunsreach/nerris/internal/persona"
)

func main() {
	cli.Execute(persona.Nerris)
}
