package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

var (
	transfers = cli.Command{
		Name:  "transfers",
		Usage: "list the transfers between savings and spending",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "active",
				Usage: "list only the transfers still in progress",
				Value: false,
			},
		},
		Action: listTransfersAction,
	}
	transfer = cli.Command{
		Name:  "transfer",
		Usage: "get or start a transfer",
		Subcommands: []*cli.Command{
			transferGetCmd, transferToSavingsCmd, transferToSpendingCmd,
		},
	}
	orderstep = cli.Command{
		Name:  "orderstep",
		Usage: "get the lifecycle step of a tracked channel order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "the id of the order",
				Required: true,
			},
		},
		Action: orderStepAction,
	}

	transferGetCmd = &cli.Command{
		Name:  "get",
		Usage: "get a transfer by id",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "the id of the transfer",
				Required: true,
			},
		},
		Action: getTransferAction,
	}
	transferToSavingsCmd = &cli.Command{
		Name: "savings",
		Usage: "cooperatively close the given channels, or all channels with " +
			"some local balance if none is given",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "channel",
				Usage: "the id of a channel to close, can be repeated",
			},
		},
		Action: transferToSavingsAction,
	}
	transferToSpendingCmd = &cli.Command{
		Name:  "spending",
		Usage: "track a paid channel order and record its transfer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "order_id",
				Usage:    "the id of the order",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "the current state of the order",
				Value: "paid",
			},
			&cli.Uint64Flag{
				Name:     "client_balance",
				Usage:    "the amount in satoshis moved to the spending balance",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "lsp_balance",
				Usage: "the inbound liquidity in satoshis provided by the LSP",
			},
			&cli.StringFlag{
				Name:  "lsp_node_id",
				Usage: "the node id of the LSP",
			},
		},
		Action: transferToSpendingAction,
	}
)

func listTransfersAction(ctx *cli.Context) error {
	path := "/v1/transfers"
	if ctx.Bool("active") {
		path += "?active=true"
	}
	return getAndPrint(ctx, path)
}

func getTransferAction(ctx *cli.Context) error {
	return getAndPrint(ctx, fmt.Sprintf("/v1/transfers/%s", url.PathEscape(ctx.String("id"))))
}

func orderStepAction(ctx *cli.Context) error {
	return getAndPrint(ctx, fmt.Sprintf("/v1/orders/%s/step", url.PathEscape(ctx.String("id"))))
}

func transferToSavingsAction(ctx *cli.Context) error {
	channelIds := ctx.StringSlice("channel")
	if channelIds == nil {
		channelIds = []string{}
	}
	resp, err := getOperatorClient(ctx).call(
		http.MethodPost, "/v1/transfers/savings",
		map[string]interface{}{"channel_ids": channelIds},
	)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, resp)
}

func transferToSpendingAction(ctx *cli.Context) error {
	resp, err := getOperatorClient(ctx).call(
		http.MethodPost, "/v1/transfers/spending",
		map[string]interface{}{
			"id":                 ctx.String("order_id"),
			"state":              ctx.String("state"),
			"client_balance_sat": ctx.Uint64("client_balance"),
			"lsp_balance_sat":    ctx.Uint64("lsp_balance"),
			"lsp_node_id":        ctx.String("lsp_node_id"),
		},
	)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, resp)
}
