package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/gateway"
	"github.com/angelmondragon/storefront-cart/internal/storefront"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/angelmondragon/storefront-cart/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
)

type action func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error

// run resolves the storefront and, when mount is set, loads the persisted
// cart before fn runs.
func (rt *runtime) run(mount bool, fn action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		front, err := rt.storefront()
		if err != nil {
			return err
		}
		if mount {
			if res := front.Mount(ctx); res.Failed() {
				return resultError(res.Error)
			}
		}
		return fn(ctx, cmd, front)
	}
}

type cartView struct {
	Snapshot cart.Snapshot      `json:"snapshot"`
	Totals   cart.DisplayTotals `json:"totals"`
}

// emitCart settles pending coupon work and prints the resulting cart.
func emitCart(cmd *cli.Command, front *storefront.Storefront, res types.Result[cart.Snapshot]) error {
	front.Settle()
	if res.Failed() {
		if err := writeJSON(cmd, res); err != nil {
			return err
		}
		return resultError(res.Error)
	}
	return writeJSON(cmd, cartView{Snapshot: front.Snapshot(), Totals: front.Totals()})
}

func emit[T any](cmd *cli.Command, front *storefront.Storefront, res types.Result[T]) error {
	front.Settle()
	if err := writeJSON(cmd, res); err != nil {
		return err
	}
	if res.Failed() {
		return resultError(res.Error)
	}
	return nil
}

func writeJSON(cmd *cli.Command, payload any) error {
	var w io.Writer = os.Stdout
	if root := cmd.Root(); root != nil && root.Writer != nil {
		w = root.Writer
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func resultError(apiErr *types.APIError) error {
	if apiErr == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: storefront %s %s", cmd.Name, usage)
	}
	return nil
}

func parseQty(raw string) (int, error) {
	qty, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("qty must be a whole number: %w", err)
	}
	return qty, nil
}

func optionalAmount(cmd *cli.Command, name string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(cmd.String(name))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	amount, err := money.ParseAmount(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("--%s: %w", name, err)
	}
	return decimal.NewNullDecimal(amount), nil
}

func showCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the current cart and totals",
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emitCart(cmd, front, types.OK(front.Snapshot()))
		}),
	}
}

func addCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a product variant to the cart",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "product-id", Usage: "catalog product id", Required: true},
			&cli.StringFlag{Name: "name", Usage: "product name", Required: true},
			&cli.StringFlag{Name: "variant-id", Usage: "variant id, required when logged in"},
			&cli.StringFlag{Name: "size"},
			&cli.StringFlag{Name: "color"},
			&cli.StringFlag{Name: "sku"},
			&cli.StringFlag{Name: "image"},
			&cli.StringFlag{Name: "price", Usage: "list price"},
			&cli.StringFlag{Name: "sale-price"},
			&cli.StringFlag{Name: "discount-percent"},
			&cli.StringFlag{Name: "qty", Value: "1"},
		},
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			qty, err := parseQty(cmd.String("qty"))
			if err != nil {
				return err
			}
			price, err := optionalAmount(cmd, "price")
			if err != nil {
				return err
			}
			sale, err := optionalAmount(cmd, "sale-price")
			if err != nil {
				return err
			}
			discount, err := optionalAmount(cmd, "discount-percent")
			if err != nil {
				return err
			}

			product := cart.RawProduct{
				ID:         cart.ID(cmd.String("product-id")),
				Name:       cmd.String("name"),
				ProductImg: cmd.String("image"),
			}
			variant := cart.RawVariant{
				ID:              cart.ID(cmd.String("variant-id")),
				SKU:             cmd.String("sku"),
				Size:            cmd.String("size"),
				Color:           cmd.String("color"),
				Price:           price,
				SalePrice:       sale,
				DiscountPercent: discount,
			}
			return emitCart(cmd, front, front.AddItem(ctx, product, variant, qty))
		}),
	}
}

func updateCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Change the quantity of a cart line",
		ArgsUsage: "<item-id> <qty>",
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			if err := requireArgs(cmd, 2, "<item-id> <qty>"); err != nil {
				return err
			}
			qty, err := parseQty(cmd.Args().Get(1))
			if err != nil {
				return err
			}
			return emitCart(cmd, front, front.UpdateQty(ctx, cart.ID(cmd.Args().First()), qty))
		}),
	}
}

func removeCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a cart line",
		ArgsUsage: "<item-id>",
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			if err := requireArgs(cmd, 1, "<item-id>"); err != nil {
				return err
			}
			return emitCart(cmd, front, front.RemoveItem(ctx, cart.ID(cmd.Args().First())))
		}),
	}
}

func fetchCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Reload the saved cart from the backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "access token overriding the stored session"},
		},
		Action: rt.run(false, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emitCart(cmd, front, front.FetchCart(ctx, cmd.String("token")))
		}),
	}
}

func syncCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Merge the guest cart into the logged in user's cart",
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emitCart(cmd, front, front.SyncGuestCartToServer(ctx))
		}),
	}
}

func loginCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Start a session and merge the guest cart",
		ArgsUsage: "[token]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "bearer access token", Sources: cli.EnvVars("STOREFRONT_ACCESS_TOKEN")},
		},
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			token := cmd.String("token")
			if cmd.Args().Present() {
				token = cmd.Args().First()
			}
			if strings.TrimSpace(token) == "" {
				return fmt.Errorf("usage: storefront login <token>")
			}
			return emitCart(cmd, front, front.Login(ctx, token))
		}),
	}
}

func logoutCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the session and clear the local cart",
		Action: rt.run(false, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emitCart(cmd, front, front.Logout(ctx))
		}),
	}
}

func couponCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "coupon",
		Usage: "Apply or remove a coupon",
		Commands: []*cli.Command{
			{
				Name:      "apply",
				Usage:     "Validate a coupon against the current subtotal",
				ArgsUsage: "<code>",
				Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
					if err := requireArgs(cmd, 1, "<code>"); err != nil {
						return err
					}
					return emit(cmd, front, front.ApplyCoupon(ctx, cmd.Args().First()))
				}),
			},
			{
				Name:  "remove",
				Usage: "Drop the applied coupon",
				Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
					return emitCart(cmd, front, front.RemoveCoupon(ctx))
				}),
			},
		},
	}
}

func verifyPaymentCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "verify-payment",
		Usage: "Confirm a checkout payment with the backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "order-id", Required: true},
			&cli.StringFlag{Name: "reference", Usage: "payment provider reference", Required: true},
			&cli.StringFlag{Name: "provider"},
		},
		Action: rt.run(false, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emit(cmd, front, front.VerifyPayment(ctx, gateway.VerifyPaymentRequest{
				OrderID:          cmd.String("order-id"),
				PaymentReference: cmd.String("reference"),
				Provider:         cmd.String("provider"),
			}))
		}),
	}
}

func clearCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Empty the cart",
		Action: rt.run(true, func(ctx context.Context, cmd *cli.Command, front *storefront.Storefront) error {
			return emitCart(cmd, front, front.ClearCart(ctx))
		}),
	}
}
