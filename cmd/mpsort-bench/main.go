/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// mpsort-bench drives mpsort.Sort over an in-process group, on either
// randomly generated fixed-width records or records loaded from a local
// file or an S3 object, and reports throughput and a verification pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	units "github.com/docker/go-units"

	"github.com/launix-de/mpsort/inproc"
	"github.com/launix-de/mpsort/mpsort"
)

func main() {
	ranks := flag.Int("ranks", 4, "number of simulated ranks")
	n := flag.Int("n", 1_000_000, "number of records to sort (ignored when -input or -s3 is set)")
	elementBytes := flag.Int("element-bytes", 16, "bytes per record")
	keyOffset := flag.Int("key-offset", 0, "byte offset of the sort key within a record")
	keyBytes := flag.Int("key-bytes", 8, "width of the sort key in bytes")
	input := flag.String("input", "", "local file of fixed-width records to sort instead of generating random data")
	s3uri := flag.String("s3", "", "s3://bucket/key object to load instead of -input or random data")
	s3endpoint := flag.String("s3-endpoint", "", "custom S3 endpoint (MinIO, etc.)")
	s3pathstyle := flag.Bool("s3-path-style", false, "use path-style S3 URLs")
	s3accessKey := flag.String("s3-access-key", "", "access key for -s3 (falls back to the default AWS credential chain)")
	s3secretKey := flag.String("s3-secret-key", "", "secret key for -s3")
	sparse := flag.String("sparse", "auto", "auto, dense, or sparse: forces the all-to-all strategy")
	gatherSort := flag.String("gather-sort", "auto", "auto, on, or off: forces the gather-sort fallback")
	lz4 := flag.Bool("lz4", false, "compress exchange-phase payloads with lz4")
	verify := flag.Bool("verify", true, "verify the result is globally sorted by key after the run")
	flag.Parse()

	var global []byte
	switch {
	case *s3uri != "":
		data, err := loadFromS3(*s3uri, *s3endpoint, *s3accessKey, *s3secretKey, *s3pathstyle)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mpsort-bench: loading from S3:", err)
			os.Exit(1)
		}
		global = data
	case *input != "":
		data, err := os.ReadFile(*input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mpsort-bench: reading input:", err)
			os.Exit(1)
		}
		global = data
	default:
		global = generateRandomRecords(*n, *elementBytes)
	}

	if len(global)%*elementBytes != 0 {
		fmt.Fprintf(os.Stderr, "mpsort-bench: input is %s, not a multiple of element-bytes %d\n", units.BytesSize(float64(len(global))), *elementBytes)
		os.Exit(1)
	}
	recordCount := len(global) / *elementBytes
	fmt.Printf("mpsort-bench: sorting %d records (%s) across %d ranks\n", recordCount, units.BytesSize(float64(len(global))), *ranks)

	tuning, err := buildTuning(*sparse, *gatherSort, *lz4)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mpsort-bench:", err)
		os.Exit(1)
	}

	sizes := splitEvenly(recordCount, *ranks)
	groups := inproc.New(*ranks)
	ins := make([][]byte, *ranks)
	outs := make([][]byte, *ranks)
	offset := 0
	for r := 0; r < *ranks; r++ {
		ins[r] = global[offset**elementBytes : (offset+sizes[r])**elementBytes]
		outs[r] = make([]byte, sizes[r]**elementBytes)
		offset += sizes[r]
	}

	start := time.Now()
	errs := inproc.Run(groups, func(g *inproc.Group, rank int) error {
		return mpsort.Sort(context.Background(), g, ins[rank], outs[rank], *elementBytes, *keyOffset, *keyBytes, tuning)
	})
	elapsed := time.Since(start)

	for r, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "mpsort-bench: rank %d: %v\n", r, err)
			os.Exit(1)
		}
	}

	throughput := float64(len(global)) / elapsed.Seconds()
	fmt.Printf("mpsort-bench: sorted in %v (%s/s)\n", elapsed, units.BytesSize(throughput))

	if *verify {
		result := make([]byte, 0, len(global))
		for r := 0; r < *ranks; r++ {
			result = append(result, outs[r]...)
		}
		if err := verifySorted(result, *elementBytes, *keyOffset, *keyBytes); err != nil {
			fmt.Fprintln(os.Stderr, "mpsort-bench: verification FAILED:", err)
			os.Exit(1)
		}
		fmt.Println("mpsort-bench: verification passed")
	}
}

func buildTuning(sparse, gatherSort string, lz4 bool) (mpsort.TuningSet, error) {
	var flags []mpsort.Tuning
	switch sparse {
	case "auto":
	case "dense":
		flags = append(flags, mpsort.DisableSparseAllToAllV)
	case "sparse":
		flags = append(flags, mpsort.RequireSparseAllToAllV)
	default:
		return mpsort.TuningSet{}, fmt.Errorf("invalid -sparse value %q", sparse)
	}
	switch gatherSort {
	case "auto":
	case "on":
		flags = append(flags, mpsort.RequireGatherSort)
	case "off":
		flags = append(flags, mpsort.DisableGatherSort)
	default:
		return mpsort.TuningSet{}, fmt.Errorf("invalid -gather-sort value %q", gatherSort)
	}
	if lz4 {
		flags = append(flags, mpsort.EnableLZ4Wire)
	}
	return mpsort.NewTuningSet(flags...)
}

func splitEvenly(n, p int) []int {
	out := make([]int, p)
	base := n / p
	rem := n % p
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

func generateRandomRecords(n, elementBytes int) []byte {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	buf := make([]byte, n*elementBytes)
	rng.Read(buf)
	return buf
}

func verifySorted(buf []byte, elementBytes, keyOffset, keyBytes int) error {
	n := len(buf) / elementBytes
	for i := 1; i < n; i++ {
		prev := buf[(i-1)*elementBytes+keyOffset : (i-1)*elementBytes+keyOffset+keyBytes]
		cur := buf[i*elementBytes+keyOffset : i*elementBytes+keyOffset+keyBytes]
		if bytesGreater(prev, cur) {
			return fmt.Errorf("record %d: key decreased relative to record %d", i, i-1)
		}
	}
	return nil
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func loadFromS3(uri, endpoint, accessKey, secretKey string, pathStyle bool) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var cfgOpts []func(*config.LoadOptions) error
	if accessKey != "" && secretKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if pathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(cfg, opts...)

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func parseS3URI(uri string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("expected s3://bucket/key, got %q", uri)
	}
	rest := uri[len(prefix):]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "", "", fmt.Errorf("expected s3://bucket/key, got %q", uri)
	}
	return rest[:i], rest[i+1:], nil
}
