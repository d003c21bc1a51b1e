package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	opconfig "github.com/ehrlich-b/opclient/internal/config"
	"github.com/ehrlich-b/opclient/internal/openprotocol"
	"github.com/ehrlich-b/opclient/internal/otlog"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "opclient",
		Short: "opclient — Open Protocol tightening controller client",
		Long:  "Connects to an Open Protocol controller over TCP, tracks its live state, and issues tightening commands.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", opconfig.DefaultPath(), "path to opclient.yaml")

	root.AddCommand(
		watchCmd(),
		statusCmd(),
		startCmd(),
		jobCmd(),
		batchCmd(),
		toolCmd(),
		initCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadClientConfig() (*opconfig.ClientConfig, error) {
	return opconfig.Load(configPath)
}

func newClient(cfg *opconfig.ClientConfig) (*openprotocol.Client, error) {
	if err := otlog.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	opCfg, err := cfg.ToOpenProtocolConfig()
	if err != nil {
		return nil, err
	}
	return openprotocol.New(opCfg, otlog.Log)
}

// connectAndWaitLinkReady dials the controller and blocks until either
// the comm-start handshake completes or ctx is cancelled.
func connectAndWaitLinkReady(ctx context.Context, c *openprotocol.Client) error {
	ready := make(chan struct{}, 1)
	c.AddListener(openprotocol.ListenerFunc(func(e openprotocol.Event) {
		if e.Name() == "linkEstablished" {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}))
	if err := c.Connect(ctx); err != nil {
		return err
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("opclient: timed out waiting for link handshake")
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Connect and print every event until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}

			c.AddListener(openprotocol.ListenerFunc(func(e openprotocol.Event) {
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05.000"), e.Name())
			}))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := c.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			<-ctx.Done()
			fmt.Println("shutting down...")
			return c.Disconnect()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect briefly and print the controller's reported state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := connectAndWaitLinkReady(ctx, c); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer c.Disconnect()

			s := c.GetState()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "connected\t%v\n", s.Connection.Connected)
			fmt.Fprintf(w, "link_ready\t%v\n", s.Connection.LinkReady)
			fmt.Fprintf(w, "controller_ready\t%v\n", s.Controller.Ready)
			fmt.Fprintf(w, "error_active\t%v\n", s.Controller.ErrorActive)
			fmt.Fprintf(w, "tool_enabled\t%v\n", s.Tool.Enabled)
			fmt.Fprintf(w, "tool_running\t%v\n", s.Tool.Running)
			fmt.Fprintf(w, "spindle_count\t%d (%s)\n", s.Tool.SpindleCount, s.Tool.SpindleCountSource)
			fmt.Fprintf(w, "job_active\t%v\n", s.Job.Active)
			fmt.Fprintf(w, "batch_counter\t%d/%d\n", s.Batch.Counter, s.Batch.Size)
			fmt.Fprintf(w, "pending_commands\t%d\n", len(s.Pending))
			return w.Flush()
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Connect and issue a tightening start command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := connectAndWaitLinkReady(ctx, c); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer c.Disconnect()
			if err := c.StartTightening(); err != nil {
				return fmt.Errorf("start tightening: %w", err)
			}
			fmt.Println("tightening started")
			return nil
		},
	}
}

func jobCmd() *cobra.Command {
	jc := &cobra.Command{
		Use:   "job",
		Short: "Select a job program",
	}
	jc.AddCommand(&cobra.Command{
		Use:   "select [id]",
		Short: "Select job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntArg(args[0])
			if err != nil {
				return err
			}
			return withConnectedClient(func(c *openprotocol.Client) error {
				if err := c.SelectJob(id); err != nil {
					return err
				}
				fmt.Printf("job %d selected\n", id)
				return nil
			})
		},
	})
	return jc
}

func batchCmd() *cobra.Command {
	bc := &cobra.Command{
		Use:   "batch",
		Short: "Manage batch counting",
	}
	bc.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset the batch counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnectedClient(func(c *openprotocol.Client) error {
				if err := c.ResetBatch(); err != nil {
					return err
				}
				fmt.Println("batch reset requested")
				return nil
			})
		},
	})
	bc.AddCommand(&cobra.Command{
		Use:   "decrement",
		Short: "Decrement the batch counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnectedClient(func(c *openprotocol.Client) error {
				if err := c.DecrementBatch(); err != nil {
					return err
				}
				fmt.Println("batch decremented")
				return nil
			})
		},
	})
	return bc
}

func toolCmd() *cobra.Command {
	tc := &cobra.Command{
		Use:   "tool",
		Short: "Enable or disable the tool",
	}
	tc.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Enable the tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnectedClient(func(c *openprotocol.Client) error {
				if err := c.EnableTool(); err != nil {
					return err
				}
				fmt.Println("tool enabled")
				return nil
			})
		},
	})
	tc.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable the tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnectedClient(func(c *openprotocol.Client) error {
				if err := c.DisableTool(); err != nil {
					return err
				}
				fmt.Println("tool disabled")
				return nil
			})
		},
	})
	return tc
}

func initCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter opclient.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &opconfig.ClientConfig{
				Host:           host,
				Port:           port,
				AutoReconnect:  true,
				ValidateFrames: true,
				LogLevel:       "info",
			}
			if err := opconfig.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Println("wrote", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "controller host (required)")
	cmd.Flags().IntVar(&port, "port", openprotocol.DefaultPort, "controller port")
	cmd.MarkFlagRequired("host")
	return cmd
}

// withConnectedClient loads config, connects, runs fn, and always
// disconnects afterward.
func withConnectedClient(fn func(c *openprotocol.Client) error) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := connectAndWaitLinkReady(ctx, c); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Disconnect()
	return fn(c)
}

func parseIntArg(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
