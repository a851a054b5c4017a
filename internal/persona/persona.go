// Package persona holds the identity a bot binary presents to users.
package persona

import "fmt"

type Persona struct {
	Name      string
	Product   string
	Version   string
	SourceURL string
	// Community and Region appear in the info text.
	Community string
	Region    string
}

var (
	Nerris = Persona{
		Name:      "Nerris",
		Product:   "nerris",
		Version:   "2.0.0",
		SourceURL: "https://github.com/sunsreach/nerris",
		Community: "The Campfire",
		Region:    "Sun's Reach",
	}
	Scout = Persona{
		Name:      "Scout",
		Product:   "scout",
		Version:   "2.0.0",
		SourceURL: "https://github.com/sunsreach/nerris",
		Community: "The Campfire",
		Region:    "Sun's Reach",
	}
)

// Info is the reply to the info command.
func (p Persona) Info() string {
	return fmt.Sprintf("Hi, I'm %s! I was created for %s discord server and the associated NS region %s! "+
		"I can verify your nation and hand out roles for it. Now where did my D20 go...",
		p.Name, p.Community, p.Region)
}

// Source is the reply to the source command.
func (p Persona) Source() string {
	return "You can find my source code here! " + p.SourceURL
}

// Namespace is the Prometheus namespace for this persona.
func (p Persona) Namespace() string {
	return p.Product
}
