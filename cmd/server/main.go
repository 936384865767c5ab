package main

import (
	"net/http"

	"github.com/mikeydub/go-activity/server"
	"github.com/mikeydub/go-activity/service/logger"
)

func main() {
	router, deps := server.Init()
	defer deps.Close()

	addr := server.Addr()
	logger.For(nil).Infof("listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.For(nil).Fatal(err)
	}
}
