package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/machconn/pkg/config"
	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/errors"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// session is a connected connector built from the service descriptor
type session struct {
	conn   registry.Connector
	params *core.ConnectorParameter
}

// open creates and connects the connector called name
func (a *app) open(ctx context.Context, name string, prepare func(registry.Connector)) (*session, error) {
	svc, err := config.LoadService(a.v.GetString(keyConfig))
	if err != nil {
		return nil, err
	}
	cc, err := svc.Connector(name)
	if err != nil {
		return nil, err
	}
	params := cc.ToParameter()
	conn, err := a.reg.Create(cc.Type, registry.FactoryConfig{
		Name:      cc.Name,
		Parameter: params,
		Logger:    a.logger.With(zap.String("connector", cc.Name)),
	})
	if err != nil {
		return nil, err
	}
	conn.SetErrorHook(func(message string, cause error) {
		a.logger.Warn(message, zap.String("connector", cc.Name), zap.Error(cause))
	})
	if prepare != nil {
		prepare(conn)
	}
	if err := base.ConnectWithRetry(ctx, conn, params, base.DefaultRetryPolicy()); err != nil {
		return nil, err
	}
	return &session{conn: conn, params: params}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.conn.Disconnect(ctx)
}

// recordPrinter writes records as JSON lines; callbacks may run concurrently
type recordPrinter struct {
	mu  sync.Mutex
	enc *jsonpool.StreamingEncoder
	n   int
}

func newRecordPrinter(w io.Writer) *recordPrinter {
	return &recordPrinter{enc: jsonpool.NewStreamingEncoder(w, false)}
}

func (p *recordPrinter) Received(rec *models.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(rec); err == nil {
		p.n++
	}
}

func (p *recordPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (a *app) readCommand() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "read <connector>",
		Short: "Read from a connector and print records as JSON lines",
		Long: `Read connects the named connector from the service descriptor. Without
--duration it performs one synchronous read; with --duration it keeps the
connection open and prints what polling and events deliver.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			printer := newRecordPrinter(cmd.OutOrStdout())
			return a.withServices(ctx, func(ctx context.Context) error {
				s, err := a.open(ctx, args[0], func(c registry.Connector) { c.SetReceptionCallback(printer) })
				if err != nil {
					return err
				}
				defer s.close()

				if duration <= 0 {
					return s.conn.Read(ctx)
				}
				if !s.conn.Capabilities().EventOnly && s.params.NotificationInterval() <= 0 && !s.conn.Capabilities().SupportsEvents {
					a.logger.Warn("connector neither polls nor pushes; nothing will be delivered")
				}
				select {
				case <-ctx.Done():
				case <-time.After(duration):
				}
				a.logger.Info("read finished", zap.Int("records", printer.count()))
				return nil
			})
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Keep reading for this long (0 reads once)")
	return cmd
}

// replayQuery builds the trigger query described by the replay flags
func replayQuery(pattern, query string, start int, startKind string, end int, endKind string, delay time.Duration) (core.TriggerQuery, error) {
	switch {
	case pattern != "" && query != "":
		return nil, errors.New(errors.ErrorTypeValidation, "--pattern and --query are exclusive")
	case pattern != "":
		q, err := core.NewPatternTriggerQuery(pattern, delay)
		if err != nil {
			return nil, err
		}
		return q, nil
	case query != "":
		q, err := core.NewStringTriggerQuery(query, delay)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	sk, err := core.ParseTimeKind(strings.ToUpper(startKind))
	if err != nil {
		return nil, err
	}
	ek, err := core.ParseTimeKind(strings.ToUpper(endKind))
	if err != nil {
		return nil, err
	}
	q, err := core.NewSimpleTimeseriesQuery(start, sk, end, ek, delay)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (a *app) replayCommand() *cobra.Command {
	var (
		pattern, query     string
		start, end         int
		startKind, endKind string
		delay              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay <connector>",
		Short: "Replay history through a trigger query",
		Long: `Replay runs one trigger query and prints the delivered records with
their original pacing. --pattern filters file lines, --query passes a
native query; otherwise the time window given by --start/--end is used.

Example:
  machconn replay line1-history --start -2 --start-kind RELATIVE_HOURS`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := replayQuery(pattern, query, start, startKind, end, endKind, delay)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			printer := newRecordPrinter(cmd.OutOrStdout())
			return a.withServices(ctx, func(ctx context.Context) error {
				s, err := a.open(ctx, args[0], func(c registry.Connector) {
					c.SetReceptionCallback(printer)
					c.EnablePolling(false)
				})
				if err != nil {
					return err
				}
				defer s.close()
				started := time.Now()
				if err := s.conn.TriggerQuery(ctx, q); err != nil {
					return err
				}
				a.logger.Info("replay finished",
					zap.Int("records", printer.count()),
					zap.Duration("elapsed", time.Since(started)))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&pattern, "pattern", "", "Regular expression selecting lines")
	f.StringVar(&query, "query", "", "Native query string")
	f.IntVar(&start, "start", -1, "Window start value")
	f.StringVar(&startKind, "start-kind", core.TimeRelativeHours.String(), "Window start kind")
	f.IntVar(&end, "end", 0, "Window end value")
	f.StringVar(&endKind, "end-kind", core.TimeUnspecified.String(), "Window end kind")
	f.DurationVar(&delay, "delay", 0, "Fixed delay between records (0 keeps the recorded pacing)")
	return cmd
}

func (a *app) writeCommand() *cobra.Command {
	var channel, data string
	cmd := &cobra.Command{
		Use:   "write <connector>",
		Short: "Write records given as JSON objects",
		Long: `Write sends one record built from --data, or one record per JSON line
read from stdin when --data is empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context) error {
				s, err := a.open(ctx, args[0], func(c registry.Connector) { c.EnablePolling(false) })
				if err != nil {
					return err
				}
				defer s.close()

				write := func(line string) error {
					var fields map[string]interface{}
					if err := jsonpool.Unmarshal([]byte(line), &fields); err != nil {
						return errors.Wrap(err, errors.ErrorTypeValidation, "record must be a JSON object")
					}
					rec := models.NewRecord("machconn", fields)
					rec.Channel = channel
					return s.conn.WriteChannel(ctx, channel, rec)
				}
				if data != "" {
					return write(data)
				}
				n := 0
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					if err := write(line); err != nil {
						return fmt.Errorf("record %d: %w", n+1, err)
					}
					n++
				}
				if err := scanner.Err(); err != nil {
					return err
				}
				a.logger.Info("write finished", zap.Int("records", n))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Logical channel (topic, file, measurement, asset)")
	cmd.Flags().StringVar(&data, "data", "", "Record fields as a JSON object")
	return cmd
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <connector> <qname>...",
		Short: "Read model elements by qualified name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context) error {
				s, err := a.open(ctx, args[0], func(c registry.Connector) { c.EnablePolling(false) })
				if err != nil {
					return err
				}
				defer s.close()
				root, err := s.conn.ModelAccess()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, q := range args[1:] {
					v, err := root.Get(ctx, q)
					if err != nil {
						return err
					}
					b, err := jsonpool.Marshal(v)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s=%s\n", q, b)
				}
				return nil
			})
		},
	}
}
