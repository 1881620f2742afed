// Package extensions enumerates the bot's loadable feature extensions. Each
// extension declares the tables it owns and the import units it contributes;
// the list here is collected into the schema and import registries at
// process startup, before any migration runs.
package extensions

import (
	"github.com/wardenbot/warden/internal/dataimport"
	"github.com/wardenbot/warden/internal/schema"
)

// Extension is one independently loadable unit of bot functionality.
type Extension interface {
	schema.Provider
	ImportUnits() []dataimport.Unit
}

// Register collects every extension's tables and import units into the
// given registries.
func Register(exts []Extension, tables *schema.Registry, units *dataimport.Registry) error {
	for _, ext := range exts {
		if err := tables.RegisterProvider(ext); err != nil {
			return err
		}
		for _, u := range ext.ImportUnits() {
			u.Extension = ext.Name()
			if err := units.Register(u); err != nil {
				return err
			}
		}
	}
	return nil
}

// Names returns the extension names in load order.
func Names(exts []Extension) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		out = append(out, ext.Name())
	}
	return out
}

// Filter returns the extensions whose names appear in want, preserving load
// order. An empty want keeps everything.
func Filter(exts []Extension, want []string) []Extension {
	if len(want) == 0 {
		return exts
	}
	wanted := make(map[string]bool, len(want))
	for _, name := range want {
		wanted[name] = true
	}
	var out []Extension
	for _, ext := range exts {
		if wanted[ext.Name()] {
			out = append(out, ext)
		}
	}
	return out
}
