package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

// apiToken gets a JWT token from the admin API.
func apiToken() (string, error) {
	url := strings.TrimRight(endpoint, "/") + "/api/v1/auth/login"
	payload := map[string]string{"accessKey": accessKey, "secretKey": secretKey}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("login failed: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// apiRequest makes an authenticated admin API request.
func apiRequest(method, path string, body io.Reader) (*http.Response, error) {
	token, err := apiToken()
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(endpoint, "/") + "/api/v1" + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// publicRequest makes an unauthenticated API request (exchange, authz).
func publicRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := strings.TrimRight(endpoint, "/") + "/api/v1" + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// printTable prints data in a formatted table.
func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(headers)))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// printJSON pretty-prints a decoded response body.
func printJSON(r io.Reader) {
	var result map[string]interface{}
	json.NewDecoder(r).Decode(&result)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func httpFatal(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	fatal(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
}
