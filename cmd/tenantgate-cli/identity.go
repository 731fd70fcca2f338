package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

func runIdentity(args []string) {
	if len(args) == 0 {
		fmt.Println(`Usage: tenantgate-cli identity <subcommand>

Subcommands:
  list                 List identities
  verify <id>          Mark an identity as verified
  delete <id>          Delete an identity`)
		os.Exit(1)
	}

	requireCreds()

	switch args[0] {
	case "list", "ls":
		identityList()
	case "verify":
		if len(args) < 2 {
			fatal("identity verify requires an id")
		}
		identityVerify(args[1])
	case "delete", "rm":
		if len(args) < 2 {
			fatal("identity delete requires an id")
		}
		identityDelete(args[1])
	default:
		fatal("unknown identity subcommand: " + args[0])
	}
}

func identityList() {
	resp, err := apiRequest("GET", "/admin/identities", nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}

	var result struct {
		Identities []struct {
			ID         string            `json:"id"`
			Username   string            `json:"username"`
			Attributes map[string]string `json:"attributes"`
			Verified   bool              `json:"verified"`
		} `json:"identities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fatal("parse response: " + err.Error())
	}

	if len(result.Identities) == 0 {
		fmt.Println("No identities found.")
		return
	}

	headers := []string{"ID", "USERNAME", "CLIENT", "VERIFIED"}
	var rows [][]string
	for _, id := range result.Identities {
		rows = append(rows, []string{
			id.ID,
			id.Username,
			id.Attributes["client"],
			strconv.FormatBool(id.Verified),
		})
	}
	printTable(headers, rows)
}

func identityVerify(id string) {
	resp, err := apiRequest("POST", "/admin/identities/"+id+"/verify", nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 204 {
		httpFatal(resp)
	}
	fmt.Printf("Identity '%s' verified.\n", id)
}

func identityDelete(id string) {
	resp, err := apiRequest("DELETE", "/admin/identities/"+id, nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 204 {
		httpFatal(resp)
	}
	fmt.Printf("Identity '%s' deleted.\n", id)
}
