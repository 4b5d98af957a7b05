// Command vigil drives an external reasoning agent from a checklist
// document, a chat conversation and a cron schedule.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
