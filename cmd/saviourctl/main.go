// Command saviourctl is the operator CLI binary. main.go mirrors the
// teacher's single-line cmd/tutu/main.go: build info lives in the flag and
// subcommand files, main just hands off to Execute.
package main

var version = "dev"

func main() {
	Execute(version)
}
