package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
)

var (
	balance = cli.Command{
		Name:   "balance",
		Usage:  "get the balance derived from the on-chain wallet, the channels and the pending orders",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "keep printing the balance every time it changes",
			},
		},
		Action: balanceAction,
	}
	channels = cli.Command{
		Name:   "channels",
		Usage:  "list the channels last reported by the node",
		Action: channelsAction,
	}
	coopclose = cli.Command{
		Name:   "coopclose",
		Usage:  "get the status of the cooperative close campaign",
		Action: coopcloseAction,
	}
)

func balanceAction(ctx *cli.Context) error {
	if ctx.Bool("watch") {
		return watchBalance(ctx)
	}
	return getAndPrint(ctx, "/v1/balance")
}

func watchBalance(ctx *cli.Context) error {
	url := getOperatorClient(ctx).baseURL + "/v1/balance/stream"
	url = "ws" + strings.TrimPrefix(url, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to open balance stream: %w", err)
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				return nil
			}
			return err
		}
		if err := printRespJSON(ctx, msg); err != nil {
			return err
		}
	}
}

func channelsAction(ctx *cli.Context) error {
	return getAndPrint(ctx, "/v1/channels")
}

func coopcloseAction(ctx *cli.Context) error {
	return getAndPrint(ctx, "/v1/coopclose")
}

func getAndPrint(ctx *cli.Context, path string) error {
	resp, err := getOperatorClient(ctx).call(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, resp)
}
