package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/roads"
)

func newRoadsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roads",
		Short: "Work with the road table",
	}
	cmd.AddCommand(newRoadsExportCmd(root), newRoadsServeCmd(root))
	return cmd
}

func newRoadsExportCmd(root *rootOptions) *cobra.Command {
	opts := roads.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "export <roads.csv> <roads.fgb>",
		Short: "Convert a road table to FlatGeobuf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			n, err := roads.Export(args[0], args[1], opts)
			if err != nil {
				return err
			}
			logger.Info("wrote roads", "path", args[1], "features", n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Name, "name", opts.Name, "layer name")
	f.StringVar(&opts.Description, "description", "", "layer description")
	f.IntVar(&opts.EPSG, "epsg", opts.EPSG, "EPSG code of the coordinates (0 writes no CRS)")
	f.BoolVar(&opts.Index, "index", opts.Index, "write a spatial index")
	return cmd
}

func newRoadsServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve <roads.fgb>",
		Short: "Serve a road FlatGeobuf file and its GeoJSON over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			r, err := roads.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			h, err := roadsHandler(r)
			if err != nil {
				return err
			}

			srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			logger.Info("serving roads", "addr", addr, "file", args[0])
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			// handlers read the mapping until shutdown returns
			<-stopped
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// roadsHandler serves the bytes of r at /roads.fgb and their GeoJSON
// rendition at /roads.geojson. r must stay open while the handler is in use.
func roadsHandler(r *roads.Reader) (http.Handler, error) {
	data := r.Bytes()
	fc, err := r.Features()
	if err != nil {
		return nil, err
	}
	geojson, err := json.Marshal(fc)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /roads.fgb", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("GET /roads.geojson", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write(geojson)
	})
	return mux, nil
}
