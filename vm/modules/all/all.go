// Package all registers every transaction handler with the vm. Import it for
// side effects.
package all

import (
	_ "github.com/tolelom/tolsettle/vm/modules/dispute"
	_ "github.com/tolelom/tolsettle/vm/modules/economy"
	_ "github.com/tolelom/tolsettle/vm/modules/registry"
	_ "github.com/tolelom/tolsettle/vm/modules/reward"
	_ "github.com/tolelom/tolsettle/vm/modules/session"
)
