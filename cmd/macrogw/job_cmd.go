package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/macrogw/internal/api"
)

const defaultAPIURL = "http://localhost:3000"

func envAPIKey() string {
	if k := os.Getenv("MACROGW_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("API_KEY")
}

// apiFlags registers the connection flags shared by the job actions.
func apiFlags(fs *flag.FlagSet) (apiURL, apiKey *string) {
	apiURL = fs.String("api-url", defaultAPIURL, "Gateway API URL")
	apiKey = fs.String("api-key", envAPIKey(), "API key")
	return apiURL, apiKey
}

func apiRequest(method, baseURL, path, apiKey string) (*http.Response, error) {
	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

// apiError extracts the {"error": "..."} message from a failed response.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e api.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return errors.New(resp.Status)
}

func runJobList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiURL, apiKey := apiFlags(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resp, err := apiRequest(http.MethodGet, *apiURL, "/jobs", *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", apiError(resp))
		return 1
	}

	var list api.JobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid response: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(list.Jobs) == 0 {
		fmt.Println("No running jobs.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tMACRO\tENGINE\tSTATE\tPID\tAGE")
	for _, j := range list.Jobs {
		name := j.Name
		if j.IsFolder {
			name += "/"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.JobID, name, j.Engine, j.State, j.PID,
			time.Since(j.StartedAt).Round(time.Second))
	}
	_ = tw.Flush()
	return 0
}

func runJobKill(args []string) int {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)

	// The id may come before or after the flags.
	var id string
	var rest []string
	takesValue := false
	for _, arg := range args {
		switch {
		case takesValue:
			rest = append(rest, arg)
			takesValue = false
		case strings.HasPrefix(arg, "-"):
			rest = append(rest, arg)
			name := strings.TrimLeft(arg, "-")
			takesValue = !strings.Contains(name, "=") && (name == "api-url" || name == "api-key")
		case id == "":
			id = arg
		default:
			rest = append(rest, arg)
		}
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: macrogw job kill <id> [--api-url URL] [--api-key KEY]")
		return 1
	}

	resp, err := apiRequest(http.MethodDelete, *apiURL, "/jobs/"+url.PathEscape(id), *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "Kill failed: %v\n", apiError(resp))
		return 1
	}

	fmt.Printf("Job %s terminating\n", id)
	return 0
}
