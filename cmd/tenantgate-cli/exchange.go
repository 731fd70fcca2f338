package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func runExchange(args []string) {
	if len(args) == 0 {
		fmt.Println(`Usage: tenantgate-cli exchange <subcommand>

Subcommands:
  token <identity-token> [--duration=<secs>]                 Exchange an identity token for scoped credentials
  login <username> <password> <audience>                     Log in and exchange in one step
  check <session-token> <action> <resource>                  Evaluate an access decision for issued credentials`)
		os.Exit(1)
	}

	switch args[0] {
	case "token":
		if len(args) < 2 {
			fatal("exchange token requires an identity token")
		}
		duration := 0
		for _, arg := range args[2:] {
			if strings.HasPrefix(arg, "--duration=") {
				n, err := strconv.Atoi(strings.TrimPrefix(arg, "--duration="))
				if err != nil {
					fatal("--duration must be an integer")
				}
				duration = n
			}
		}
		exchangeToken(args[1], duration)
	case "login":
		if len(args) < 4 {
			fatal("exchange login requires: <username> <password> <audience>")
		}
		exchangeLogin(args[1], args[2], args[3])
	case "check":
		if len(args) < 4 {
			fatal("exchange check requires: <session-token> <action> <resource>")
		}
		exchangeCheck(args[1], args[2], args[3])
	default:
		fatal("unknown exchange subcommand: " + args[0])
	}
}

func exchangeToken(token string, durationSecs int) {
	payload := map[string]interface{}{"token": token}
	if durationSecs > 0 {
		payload["durationSecs"] = durationSecs
	}
	data, _ := json.Marshal(payload)
	resp, err := publicRequest("POST", "/sts/exchange", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}

func exchangeLogin(username, password, audience string) {
	payload := map[string]string{
		"username": username,
		"password": password,
		"audience": audience,
	}
	data, _ := json.Marshal(payload)
	resp, err := publicRequest("POST", "/identity/login", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		fatal("parse response: " + err.Error())
	}

	exchangeToken(login.Token, 0)
}

func exchangeCheck(sessionToken, action, resource string) {
	payload := map[string]string{
		"sessionToken": sessionToken,
		"action":       action,
		"resource":     resource,
	}
	data, _ := json.Marshal(payload)
	resp, err := publicRequest("POST", "/authz/check", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}
