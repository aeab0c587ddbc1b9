package main

import (
	"fmt"
	"io"
)

const banner = `  ___ ____  ______        __
 |_ _|  _ \/ ___\ \      / /
  | || |_) \___ \ \ /\ / /
  | ||  __/ ___) |\ V  V /
 |___|_|   |____/  \_/\_/

      _                     _                 _
   __| | _____      ___ __ | | ___   __ _  __| | ___ _ __
  / _` + "`" + ` |/ _ \ \ /\ / / '_ \| |/ _ \ / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '__|
 | (_| | (_) \ V  V /| | | | | (_) | (_| | (_| |  __/ |
  \__,_|\___/ \_/\_/ |_| |_|_|\___/ \__,_|\__,_|\___|_|
`

func printBanner(w io.Writer) {
	fmt.Fprintln(w, banner)
}
