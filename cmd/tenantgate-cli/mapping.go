package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

func runMapping(args []string) {
	if len(args) == 0 {
		fmt.Println(`Usage: tenantgate-cli mapping <subcommand>

Subcommands:
  list                                        List stored mappings and the active version
  put <audience> <source-claim> <tag-key>     Store a mapping (inactive until apply)
  delete <audience>                           Delete a stored mapping
  apply                                       Activate the stored mappings
  check <audience>                            Run the exchange self-check for an audience`)
		os.Exit(1)
	}

	requireCreds()

	switch args[0] {
	case "list", "ls":
		mappingList()
	case "put":
		if len(args) < 4 {
			fatal("mapping put requires: <audience> <source-claim> <tag-key>")
		}
		mappingPut(args[1], args[2], args[3])
	case "delete", "rm":
		if len(args) < 2 {
			fatal("mapping delete requires an audience")
		}
		mappingDelete(args[1])
	case "apply":
		mappingApply()
	case "check":
		if len(args) < 2 {
			fatal("mapping check requires an audience")
		}
		mappingCheck(args[1])
	default:
		fatal("unknown mapping subcommand: " + args[0])
	}
}

func mappingList() {
	resp, err := apiRequest("GET", "/admin/mappings", nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}

	var result struct {
		Mappings []struct {
			Audience    string `json:"audience"`
			SourceClaim string `json:"source_claim"`
			TagKey      string `json:"tag_key"`
		} `json:"mappings"`
		ActiveVersion string `json:"activeVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fatal("parse response: " + err.Error())
	}

	if len(result.Mappings) == 0 {
		fmt.Println("No mappings stored.")
		return
	}

	headers := []string{"AUDIENCE", "SOURCE CLAIM", "TAG KEY"}
	var rows [][]string
	for _, m := range result.Mappings {
		rows = append(rows, []string{m.Audience, m.SourceClaim, m.TagKey})
	}
	printTable(headers, rows)
	fmt.Printf("\nActive version: %s\n", result.ActiveVersion)
}

func mappingPut(audience, sourceClaim, tagKey string) {
	payload := map[string]string{
		"audience":    audience,
		"sourceClaim": sourceClaim,
		"tagKey":      tagKey,
	}
	data, _ := json.Marshal(payload)
	resp, err := apiRequest("POST", "/admin/mappings", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		httpFatal(resp)
	}
	fmt.Printf("Mapping stored for audience '%s'. Run 'mapping apply' to activate.\n", audience)
}

func mappingDelete(audience string) {
	resp, err := apiRequest("DELETE", "/admin/mappings/"+audience, nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 204 {
		httpFatal(resp)
	}
	fmt.Printf("Mapping for audience '%s' deleted. Run 'mapping apply' to activate.\n", audience)
}

func mappingApply() {
	resp, err := apiRequest("POST", "/admin/mappings/apply", nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}

func mappingCheck(audience string) {
	payload := map[string]string{"audience": audience}
	data, _ := json.Marshal(payload)
	resp, err := apiRequest("POST", "/admin/diagnostics/selfcheck", bytes.NewReader(data))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}
	printJSON(resp.Body)
}
