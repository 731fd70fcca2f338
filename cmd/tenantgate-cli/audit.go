package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func runAudit(args []string) {
	limit := 50
	for _, arg := range args {
		if strings.HasPrefix(arg, "--limit=") {
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--limit="))
			if err != nil {
				fatal("--limit must be an integer")
			}
			limit = n
		} else if arg == "--help" || arg == "-h" {
			fmt.Println(`Usage: tenantgate-cli audit [--limit=<n>]

Shows the most recent exchange and authorization decisions.`)
			os.Exit(0)
		}
	}

	requireCreds()

	resp, err := apiRequest("GET", fmt.Sprintf("/admin/audit?limit=%d", limit), nil)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		httpFatal(resp)
	}

	var result struct {
		Entries []struct {
			Time       int64  `json:"time"`
			Action     string `json:"action"`
			Resource   string `json:"resource"`
			Outcome    string `json:"outcome"`
			ErrorClass string `json:"error_class"`
			SourceIP   string `json:"source_ip"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fatal("parse response: " + err.Error())
	}

	if len(result.Entries) == 0 {
		fmt.Println("No audit entries.")
		return
	}

	headers := []string{"TIME", "ACTION", "RESOURCE", "OUTCOME", "ERROR", "SOURCE IP"}
	var rows [][]string
	for _, e := range result.Entries {
		rows = append(rows, []string{
			time.Unix(0, e.Time).UTC().Format(time.RFC3339),
			e.Action,
			e.Resource,
			e.Outcome,
			e.ErrorClass,
			e.SourceIP,
		})
	}
	printTable(headers, rows)
}
