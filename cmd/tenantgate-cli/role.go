package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func runRole(args []string) {
	if len(args) == 0 {
		fmt.Println(`Usage: tenantgate-cli role <subcommand>

Subcommands:
  list                                              List roles
  create <name> <audience> [--state=<state>]        Create a role (state: authenticated, unauthenticated, both)
  show <name>                                       Show a role and its trust policy
  delete <name>                                     Delete a role`)
		os.Exit(1)
	}

	requireCreds()

	switch args[0] {
	case "list", "ls":
		roleList()
	case "create":
		if len(args) < 3 {
			fatal("role create requires: <name> <audience>")
		}
		state := "both"
		for _, arg := range args[3:] {
			if strings.HasPrefix(arg, "--state=") {
				state = strings.TrimPrefix(arg, "--state=")
			}
		}
		roleCreate(args[1], args[2], state)
	case "show":
		if len(args) < 2 {
			fatal("role show requires a name")
		}
		roleShow(args[1])
	case "delete", "rm":
		if len(args) < 2 {
			fatal("role delete requires a name")
		}
		roleDelete(args[1])
	default:
		fatal("unknown role subcommand: " + args[0])
	}
}

func roleList() {
	resp, err := apiRequest("GET", "/admin/roles", nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}

	var result struct {
		Roles []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			AuthState   string `json:"auth_state"`
		} `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fatal("parse response: " + err.Error())
	}

	if len(result.Roles) == 0 {
		fmt.Println("No roles found.")
		return
	}

	headers := []string{"NAME", "AUTH STATE", "DESCRIPTION"}
	var rows [][]string
	for _, r := range result.Roles {
		rows = append(rows, []string{r.Name, r.AuthState, r.Description})
	}
	printTable(headers, rows)
}

func roleCreate(name, audience, state string) {
	payload := map[string]string{
		"name":      name,
		"audience":  audience,
		"authState": state,
	}
	data, _ := json.Marshal(payload)
	resp, err := apiRequest("POST", "/admin/roles", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}

func roleShow(name string) {
	resp, err := apiRequest("GET", "/admin/roles/"+name, nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}

func roleDelete(name string) {
	resp, err := apiRequest("DELETE", "/admin/roles/"+name, nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 204 {
		httpFatal(resp)
	}
	fmt.Printf("Role '%s' deleted.\n", name)
}
