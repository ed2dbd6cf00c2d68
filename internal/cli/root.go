// Package cli implements the wifictl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bbernstein/lacylights-wifi/internal/api"
)

// DefaultServer is used when neither --server nor WIFICTL_SERVER is set.
const DefaultServer = "http://localhost:4100"

// app is the state shared by every command of one invocation.
type app struct {
	serverURL    string
	outputFormat string

	client    *Client
	formatter Formatter
}

func (a *app) print(cmd *cobra.Command, data any) {
	fmt.Fprint(cmd.OutOrStdout(), a.formatter.Format(data))
}

// NewRootCmd builds the wifictl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "wifictl",
		Short: "Control the wifi daemon",
		Long: `wifictl drives a running wifid over its HTTP API: start station, AP or
P2P operation, scan, join networks and read link parameters.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.serverURL == "" {
				a.serverURL = os.Getenv("WIFICTL_SERVER")
			}
			if a.serverURL == "" {
				a.serverURL = DefaultServer
			}
			switch a.outputFormat {
			case "", "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q", a.outputFormat)
			}
			a.client = NewClient(a.serverURL)
			a.formatter = NewFormatter(a.outputFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "wifid URL (default $WIFICTL_SERVER or "+DefaultServer+")")
	root.PersistentFlags().StringVarP(&a.outputFormat, "output", "o", "table", "output format: table, json, yaml")

	root.AddCommand(
		a.statusCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.scanCmd(),
		a.resultsCmd(),
		a.joinCmd(),
		a.leaveCmd(),
		a.txPowerCmd(),
		a.countryCmd(),
		a.valueCmd("mac", "Show the interface MAC address"),
		a.valueCmd("rssi", "Show the signal strength of the current link"),
		a.valueCmd("channel", "Show the channel of the current link"),
		a.saveCmd(),
		a.panicCmd(),
		a.interfacesCmd(),
		a.eventsCmd(),
	)
	return root
}

// Execute runs wifictl and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the driver state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			a.print(cmd, st)
			return nil
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	var profilePath string
	cmd := &cobra.Command{
		Use:       "start <station|ap|p2p>",
		Short:     "Start the supplicant in station, AP or P2P mode",
		Long:      "Start the supplicant. AP mode uses --profile, or the daemon's configured or last used profile.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"station", "ap", "p2p"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var profile *api.APProfile
			if profilePath != "" {
				if args[0] != "ap" {
					return fmt.Errorf("--profile only applies to ap mode")
				}
				p, err := api.LoadAPProfile(profilePath)
				if err != nil {
					return err
				}
				if _, err := p.Config(); err != nil {
					return fmt.Errorf("invalid AP profile: %w", err)
				}
				profile = p
			}
			st, err := a.client.Start(cmd.Context(), args[0], profile)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			a.print(cmd, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", "", "yaml AP profile")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the supplicant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.Stop(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to stop: %w", err)
			}
			a.print(cmd, st)
			return nil
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	var req api.ScanRequest
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Request a scan, of every channel or for one network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Scan(cmd.Context(), req); err != nil {
				return fmt.Errorf("failed to scan: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan started. Run 'wifictl results' once it completes.")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SSID, "ssid", "", "scan for one network only")
	cmd.Flags().StringVar(&req.Security, "security", "", "security mode of the network")
	cmd.Flags().StringVar(&req.Passphrase, "passphrase", "", "passphrase of the network")
	return cmd
}

// scanTable is the table shape of scan results.
type scanTable []api.ScanResult

type scanRow struct {
	BSSID    string
	SSID     string
	Channel  int
	RSSI     int
	Security []string
}

// Table narrows each result to the columns shown in table output.
func (s scanTable) Table() any {
	rows := make([]scanRow, len(s))
	for i, r := range s {
		rows[i] = scanRow{BSSID: r.BSSID, SSID: r.SSID, Channel: r.Channel, RSSI: r.RSSI, Security: r.Security}
	}
	return rows
}

func (a *app) resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "List the networks found by the last scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Results(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get scan results: %w", err)
			}
			a.print(cmd, scanTable(res.Results))
			return nil
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	var req api.JoinRequest
	cmd := &cobra.Command{
		Use:   "join <ssid>",
		Short: "Join a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SSID = args[0]
			st, err := a.client.Join(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to join %q: %w", req.SSID, err)
			}
			a.print(cmd, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.BSSID, "bssid", "", "join this access point only")
	cmd.Flags().StringVar(&req.Security, "security", "", "security mode, e.g. wpa2_ccmp (default open, or wpa2_ccmp with a passphrase)")
	cmd.Flags().StringVar(&req.Passphrase, "passphrase", "", "network passphrase")
	return cmd
}

func (a *app) leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the current network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.Leave(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to leave: %w", err)
			}
			a.print(cmd, st)
			return nil
		},
	}
}

func (a *app) txPowerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "txpower [dbm]",
		Short: "Show or set the transmit power",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				p, err := a.client.TxPower(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get tx power: %w", err)
				}
				a.print(cmd, p)
				return nil
			}
			dbm, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid dbm %q", args[0])
			}
			p, err := a.client.SetTxPower(cmd.Context(), dbm)
			if err != nil {
				return fmt.Errorf("failed to set tx power: %w", err)
			}
			a.print(cmd, p)
			return nil
		},
	}
}

func (a *app) countryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "country [code]",
		Short: "Show or set the regulatory country code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cc  *api.Country
				err error
			)
			if len(args) == 0 {
				cc, err = a.client.Country(cmd.Context())
			} else {
				cc, err = a.client.SetCountry(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to access country code: %w", err)
			}
			a.print(cmd, cc)
			return nil
		},
	}
}

func (a *app) valueCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.client.Value(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to get %s: %w", name, err)
			}
			a.print(cmd, v)
			return nil
		},
	}
}

func (a *app) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write the supplicant configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Save(cmd.Context()); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved.")
			return nil
		},
	}
}

func (a *app) panicCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:    "panic",
		Short:  "Crash the wifi firmware to exercise recovery",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to crash the firmware without --yes")
			}
			if err := a.client.Panic(cmd.Context()); err != nil {
				return fmt.Errorf("failed to force panic: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Firmware panic requested.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the crash")
	return cmd
}

func (a *app) interfacesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List wireless interfaces on the daemon's host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Interfaces(cmd.Context(), all)
			if err != nil {
				return fmt.Errorf("failed to list interfaces: %w", err)
			}
			a.print(cmd, res.Interfaces)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include wired and virtual interfaces")
	return cmd
}

func (a *app) eventsCmd() *cobra.Command {
	var (
		topics []string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream link and scan notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seen := 0
			return a.client.Events(cmd.Context(), topics, func(ev api.Event) bool {
				a.print(cmd, ev)
				seen++
				return count <= 0 || seen < count
			})
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topics to follow: LINK_UP, LINK_DOWN, SCAN_RESULT, STATE")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events")
	return cmd
}
