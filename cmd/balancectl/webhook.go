package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

var (
	webhook = cli.Command{
		Name:  "webhook",
		Usage: "add or remove webhooks",
		Subcommands: []*cli.Command{
			webhookAddCmd, webhookRemoveCmd,
		},
	}
	listwebhooks = cli.Command{
		Name:  "webhooks",
		Usage: "list all webhooks, optionally filtered by target event",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "event",
				Usage: "one of BALANCE_UPDATED, COOP_CLOSE_GAVE_UP, TRANSFER_SETTLED or * for any",
			},
		},
		Action: listWebhooksAction,
	}

	webhookAddCmd = &cli.Command{
		Name:  "add",
		Usage: "add a (secured) webhook endpoint called whenever a target event occurs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Usage:    "the webhook endpoint to be called whenever the target event occurs",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "event",
				Usage:    "one of BALANCE_UPDATED, COOP_CLOSE_GAVE_UP, TRANSFER_SETTLED or * for any",
				Required: true,
			},
			&cli.StringFlag{
				Name: "secret",
				Usage: "the eventual secret to use to generate a token for " +
					"authenticating requests to the webhook endpoint",
			},
		},
		Action: addWebhookAction,
	}

	webhookRemoveCmd = &cli.Command{
		Name:  "remove",
		Usage: "remove a webhook",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "the id of the webhook to remove",
				Required: true,
			},
		},
		Action: removeWebhookAction,
	}
)

func addWebhookAction(ctx *cli.Context) error {
	resp, err := getOperatorClient(ctx).call(
		http.MethodPost, "/v1/webhooks", map[string]string{
			"event":    ctx.String("event"),
			"endpoint": ctx.String("endpoint"),
			"secret":   ctx.String("secret"),
		},
	)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, resp)
}

func removeWebhookAction(ctx *cli.Context) error {
	hookID := ctx.String("id")
	if _, err := getOperatorClient(ctx).call(
		http.MethodDelete, fmt.Sprintf("/v1/webhooks/%s", url.PathEscape(hookID)), nil,
	); err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, "removed webhook with id:", hookID)
	return nil
}

func listWebhooksAction(ctx *cli.Context) error {
	path := "/v1/webhooks"
	if event := ctx.String("event"); len(event) > 0 {
		path += "?event=" + url.QueryEscape(event)
	}
	return getAndPrint(ctx, path)
}
