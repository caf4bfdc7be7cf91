package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/IMQS/cas"
	"github.com/robfig/cron"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: casserver <path to cas.json>")
		return
	}
	config := &cas.Config{}
	if err := config.LoadFile(os.Args[1]); err != nil {
		panic(fmt.Errorf("error loading config: %w", err))
	}

	if config.TicketDB.Host != "" {
		if err := cas.SqlCreateDatabase(&config.TicketDB); err != nil {
			panic(fmt.Errorf("error creating database: %w", err))
		}
		if err := cas.RunMigrations(&config.TicketDB); err != nil {
			panic(fmt.Errorf("error running migrations: %w", err))
		}
	}

	central, err := cas.NewCentralFromConfig(config)
	if err != nil {
		panic(err)
	}
	defer central.Close()

	renderer, err := cas.NewRenderer(config.Authorization.AttributeFormat)
	if err != nil {
		panic(err)
	}

	cr := cron.New()
	cr.AddFunc(fmt.Sprintf("@every %vm", config.Ticket.ExpiryMinutes), func() {
		central.DeleteInvalidTickets()
	})
	cr.Start()
	defer cr.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerLogin(central, w, r)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerLogout(central, w, r)
	})
	mux.HandleFunc("/validate", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerValidate(central, renderer, w, r)
	})
	mux.HandleFunc("/serviceValidate", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerServiceValidate(central, renderer, w, r)
	})
	mux.HandleFunc("/p3/serviceValidate", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerP3ServiceValidate(central, renderer, w, r)
	})
	mux.HandleFunc("/proxyValidate", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerProxyValidate(central, renderer, w, r)
	})
	mux.HandleFunc("/p3/proxyValidate", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerProxyValidate(central, renderer, w, r)
	})
	mux.HandleFunc("/proxy", func(w http.ResponseWriter, r *http.Request) {
		cas.HttpHandlerProxy(central, renderer, w, r)
	})

	addr := fmt.Sprintf("%v:%v", config.HTTP.Bind, config.HTTP.Port)
	central.Log.Infof("CAS server listening on %v", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		panic(err)
	}
}
