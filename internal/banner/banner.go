// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
)

// Version is the Herald release version.
const Version = "0.3.0"

const art = `
    __  __                __    __
   / / / /__  _________ _/ /___/ /
  / /_/ / _ \/ ___/ __ '/ / __  /
 / __  /  __/ /  / /_/ / / /_/ /
/_/ /_/\___/_/   \__,_/_/\__,_/
                 v%s - Campaign Engine
`

// Print writes the banner and version to w.
func Print(w io.Writer) {
	fmt.Fprintf(w, art, Version)
	fmt.Fprintln(w, "\n------------------------------------------------")
}
