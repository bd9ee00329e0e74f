package main

import "github.com/convoflowhq/convoflow/cmd"

func main() {
	cmd.Execute()
}
