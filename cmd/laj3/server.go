package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/klauspost/compress/flate"
	"github.com/laj3/laj3/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultBind = "127.0.0.1"
	defaultPort = 7878
)

func (a *app) serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve files to clients that send a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serverConfig(a.v, cmd)
			if err != nil {
				return err
			}

			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				green.Render("laj3 server"),
				bold.Render(cfg.Addr),
				gray.Render(fmt.Sprintf("(manifest %s, dir %s)", cfg.Manifest, cfg.ContentDir)),
			)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().IntP("port", "p", defaultPort, "port to listen on")
	cmd.Flags().String("bind", defaultBind, "address to bind")
	cmd.Flags().StringP("manifest", "m", server.DefaultManifest, "reference manifest file or s3://bucket/key")
	cmd.Flags().StringP("dir", "d", ".", "directory the manifest paths are relative to")
	cmd.Flags().IntP("workers", "w", server.DefaultWorkers, "number of connection workers")
	cmd.Flags().Int("queue-size", 0, "max queued connections, 0 for unbounded")
	cmd.Flags().Duration("read-timeout", server.DefaultReadTimeout, "deadline for receiving a manifest")
	cmd.Flags().Duration("write-timeout", server.DefaultWriteTimeout, "deadline for sending an archive")
	cmd.Flags().Int64("max-manifest-bytes", server.DefaultMaxManifestBytes, "largest accepted client manifest")
	cmd.Flags().Int("compression-level", flate.DefaultCompression, "deflate level 1-9, -1 for the default, -2 for huffman only")
	cmd.Flags().String("rate-limit", "", "connections per client ip, e.g. 60-M (empty disables)")
	cmd.Flags().String("http", "", "address for the /healthz and /stats endpoint (empty disables)")
	return cmd
}

func serverConfig(v *viper.Viper, cmd *cobra.Command) (*server.Config, error) {
	err := bindFlags(v, cmd.Flags(), map[string]string{
		"server.port":               "port",
		"server.bind":               "bind",
		"server.manifest":           "manifest",
		"server.content_dir":        "dir",
		"server.workers":            "workers",
		"server.queue_size":         "queue-size",
		"server.read_timeout":       "read-timeout",
		"server.write_timeout":      "write-timeout",
		"server.max_manifest_bytes": "max-manifest-bytes",
		"server.compression_level":  "compression-level",
		"server.rate_limit":         "rate-limit",
		"server.http_addr":          "http",
	})
	if err != nil {
		return nil, err
	}

	return &server.Config{
		Addr:             net.JoinHostPort(v.GetString("server.bind"), strconv.Itoa(v.GetInt("server.port"))),
		ContentDir:       v.GetString("server.content_dir"),
		Manifest:         v.GetString("server.manifest"),
		Workers:          v.GetInt("server.workers"),
		QueueSize:        v.GetInt("server.queue_size"),
		ReadTimeout:      v.GetDuration("server.read_timeout"),
		WriteTimeout:     v.GetDuration("server.write_timeout"),
		MaxManifestBytes: v.GetInt64("server.max_manifest_bytes"),
		CompressionLevel: v.GetInt("server.compression_level"),
		RateLimit:        v.GetString("server.rate_limit"),
		HTTPAddr:         v.GetString("server.http_addr"),
		S3: server.S3Config{
			Region:    v.GetString("server.s3.region"),
			Endpoint:  v.GetString("server.s3.endpoint"),
			AccessKey: v.GetString("server.s3.access_key"),
			SecretKey: v.GetString("server.s3.secret_key"),
		},
	}, nil
}
