package main

import "github.com/dmitrijs2005/credkeeper/internal/keytool"

func main() {
	keytool.Execute()
}
