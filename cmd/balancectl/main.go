package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const defaultOperatorURL = "http://localhost:9000"

var operatorURLFlag = &cli.StringFlag{
	Name:    "rpcserver",
	Usage:   "url of the operator interface of balanced",
	EnvVars: []string{"BALANCED_OPERATOR_URL"},
	Value:   defaultOperatorURL,
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "balancectl"
	app.Usage = "Command line interface for balanced operators"
	app.Flags = []cli.Flag{operatorURLFlag}
	app.Commands = append(
		app.Commands,
		&balance,
		&channels,
		&coopclose,
		&transfers,
		&transfer,
		&orderstep,
		&webhook,
		&listwebhooks,
	)
	return app
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[balancectl] %v\n", err)
	os.Exit(1)
}

type operatorClient struct {
	baseURL string
	http    *http.Client
}

func getOperatorClient(ctx *cli.Context) *operatorClient {
	return &operatorClient{
		baseURL: strings.TrimSuffix(ctx.String(operatorURLFlag.Name), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends the request and returns the raw JSON response. Error responses
// are turned into errors carrying the message returned by the daemon.
func (c *operatorClient) call(method, path string, body interface{}) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		errResp := map[string]string{}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp["error"] != "" {
			return nil, fmt.Errorf("%s", errResp["error"])
		}
		return nil, fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	return respBody, nil
}

func printRespJSON(ctx *cli.Context, resp []byte) error {
	out := &bytes.Buffer{}
	if err := json.Indent(out, resp, "", "\t"); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	fmt.Fprintln(ctx.App.Writer, strings.TrimSpace(out.String()))
	return nil
}
