// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/checkpoint-restore/criu-coordinator/cmd/criu-coordinator"

func main() {
	cmd.Execute()
}
