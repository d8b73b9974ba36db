package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/internal/models"
	"zarrdomain/pkg/annotations"
	"zarrdomain/pkg/config"
	"zarrdomain/pkg/metadata"
	"zarrdomain/pkg/reconstruction"
)

// datasetFlags locate the documents describing one dataset
type datasetFlags struct {
	zarr        string
	acquisition string
	processing  string
}

func (f *datasetFlags) register(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVar(&f.zarr, "zarr", "", "OME-Zarr image locator (local path, HTTP URL or s3:// URI)")
	cmd.Flags().StringVar(&f.acquisition, "acquisition", "", "acquisition metadata JSON")
	cmd.Flags().StringVar(&f.processing, "processing", "", "processing metadata JSON")
	if required {
		_ = cmd.MarkFlagRequired("zarr")
		_ = cmd.MarkFlagRequired("acquisition")
		_ = cmd.MarkFlagRequired("processing")
	}
}

// check reports the dataset flags left empty
func (f *datasetFlags) check() error {
	var missing []string
	for name, v := range map[string]string{"zarr": f.zarr, "acquisition": f.acquisition, "processing": f.processing} {
		if v == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return nil
}

func (a *app) loadProcessing(ctx context.Context, uri string) (metadata.Metadata, error) {
	doc, err := a.cache.FetchJSON(ctx, uri)
	if err != nil {
		return metadata.Metadata{}, errors.Wrap(err, "reading processing metadata")
	}
	return metadata.ParseString(doc.Raw), nil
}

func (a *app) estimate(ctx context.Context, f datasetFlags) (*reconstruction.Domain, error) {
	md, err := a.reader().Read(ctx, f.zarr, f.acquisition)
	if err != nil {
		return nil, err
	}
	processing, err := a.loadProcessing(ctx, f.processing)
	if err != nil {
		return nil, err
	}
	return a.reconstructor().EstimatePipelineDomain(md, processing, a.cfg.Processing.Level)
}

func newDomainCmd(a *app) *cobra.Command {
	var f datasetFlags
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Print the header the pipeline produced for a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.estimate(cmd.Context(), f)
			if err != nil {
				return err
			}
			printDomain(cmd.OutOrStdout(), d)
			return nil
		},
	}
	f.register(cmd, true)
	return cmd
}

func printDomain(w io.Writer, d *reconstruction.Domain) {
	h := d.Header
	applied := "none"
	if d.Corrected() {
		applied = strings.Join(d.Applied, ", ")
	}
	fmt.Fprintf(w, "pipeline version: %s\n", d.PipelineVersion)
	fmt.Fprintf(w, "level:            %d\n", d.Level)
	fmt.Fprintf(w, "overlays:         %s\n", applied)
	fmt.Fprintf(w, "size:             %v\n", h.Size())
	fmt.Fprintf(w, "spacing:          %s\n", fmtVec(h.Spacing()))
	fmt.Fprintf(w, "origin:           %s\n", fmtVec(h.Origin()))
	fmt.Fprintf(w, "orientation:      %s\n", h.Direction().Orientation())
	fmt.Fprintf(w, "direction:        %v\n", [9]float64(h.Direction()))
}

func fmtVec(v r3.Vec) string {
	return fmt.Sprintf("%s %s %s", fmtFloat(v.X), fmtFloat(v.Y), fmtFloat(v.Z))
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

const (
	spaceIndex    = "index"
	spacePhysical = "physical"
	spaceCCF      = "ccf"
)

func newPointsCmd(a *app) *cobra.Command {
	var (
		f           datasetFlags
		annotation  string
		template    string
		layers      []string
		space       string
		boundsCheck bool
	)
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Map Neuroglancer annotation points into physical or CCF space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			switch space {
			case spaceIndex, spacePhysical, spaceCCF:
			default:
				return fmt.Errorf("--space must be %s, %s or %s", spaceIndex, spacePhysical, spaceCCF)
			}
			if space == spaceCCF && template == "" {
				return fmt.Errorf("--template is required for --space %s", spaceCCF)
			}
			if space != spaceIndex {
				if err := f.check(); err != nil {
					return err
				}
			}

			raw, err := a.cache.Fetch(ctx, annotation)
			if err != nil {
				return errors.Wrap(err, "reading annotations")
			}
			ann, err := annotations.Parse(raw, annotations.Options{Layers: layers})
			if err != nil {
				return err
			}
			if space == spaceIndex {
				return writePoints(cmd.OutOrStdout(), ann, ann.Points)
			}

			d, err := a.estimate(ctx, f)
			if err != nil {
				return err
			}
			var pts models.PointSet
			if boundsCheck {
				if pts, err = annotations.ToPhysicalChecked(d.Header, ann.Points); err != nil {
					return err
				}
			} else {
				pts = annotations.ToPhysical(d.Header, ann.Points)
			}
			if space == spacePhysical {
				return writePoints(cmd.OutOrStdout(), ann, pts)
			}

			processing, err := a.loadProcessing(ctx, f.processing)
			if err != nil {
				return err
			}
			chain, err := a.resolver().ResolveTransformChain(processing, template)
			if err != nil {
				return err
			}
			if pts, err = a.orchestrator().TransformPoints(ctx, pts, chain); err != nil {
				return err
			}
			return writePoints(cmd.OutOrStdout(), ann, pts)
		},
	}
	f.register(cmd, false)
	cmd.Flags().StringVar(&annotation, "annotations", "", "Neuroglancer state JSON")
	cmd.Flags().StringVar(&template, "template", "", "template the dataset was registered to")
	cmd.Flags().StringSliceVar(&layers, "layer", nil, "annotation layers to read (default: all)")
	cmd.Flags().StringVar(&space, "space", spaceCCF, "output space: index, physical or ccf")
	cmd.Flags().BoolVar(&boundsCheck, "bounds-check", false, "fail on points outside the image grid")
	_ = cmd.MarkFlagRequired("annotations")
	return cmd
}

// writePoints writes layer,label,x,y,z rows in layer order
func writePoints(w io.Writer, ann *annotations.Annotations, pts models.PointSet) error {
	labels := ann.Labels()
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"layer", "label", "x", "y", "z"})
	for _, layer := range pts.Layers() {
		for i, p := range pts[layer] {
			_ = cw.Write([]string{layer, labels[layer][i], fmtFloat(p.X), fmtFloat(p.Y), fmtFloat(p.Z)})
		}
	}
	cw.Flush()
	return cw.Error()
}

func newChainCmd(a *app) *cobra.Command {
	var processingURI, template string
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Print the transform chain from a dataset to CCF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			processing, err := a.loadProcessing(cmd.Context(), processingURI)
			if err != nil {
				return err
			}
			chain, err := a.resolver().ResolveTransformChain(processing, template)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d steps\n", chain.Individual.Name, len(chain.Individual.Steps))
			fmt.Fprintf(w, "%s: %d steps\n", chain.Template.Name, len(chain.Template.Steps))
			for i, s := range chain.Steps() {
				fmt.Fprintf(w, "%d. %s\n", i+1, s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&processingURI, "processing", "", "processing metadata JSON")
	cmd.Flags().StringVar(&template, "template", "", "template the dataset was registered to")
	_ = cmd.MarkFlagRequired("processing")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// a broken config file must not stop it from being rewritten
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = defaultConfigPath()
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
