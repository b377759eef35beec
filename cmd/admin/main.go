package main

import (
	"log"

	tool "github.com/tradeprohub/account-service/internal/tools/admin"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
