// Package main provides a CLI tool for batch image-server workflows:
// load a folder, verify its images are servable, and write a JSON
// manifest of image URLs for downstream embedding pipelines.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/sly67/imageserve/internal/client"
)

func main() {
	_ = godotenv.Load(".env")

	serverURL := flag.String("server", envOr("IMAGE_SERVER_URL", "http://localhost:7779"), "Image server URL")
	timeout := flag.Int("timeout", -1, "Auto-unload timeout in minutes (-1 = server default, 0 = disabled)")
	output := flag.String("output", defaultOutputDir(), "Directory for generated JSON manifests")
	name := flag.String("name", "", "Manifest filename (default: <folder>_<timestamp>.json)")
	unloadFirst := flag.Bool("unload-first", false, "Unload any previously loaded directory first")
	verify := flag.Bool("verify", false, "Fetch every image to verify it is servable")
	workers := flag.Int("workers", 10, "Concurrent workers for -verify")
	wait := flag.Int("wait", 10, "Seconds to wait for the server to come up")

	flag.Parse()

	args := flag.Args()
	switch {
	case len(args) == 1 && args[0] == "unload":
		runUnload(*serverURL)
		return
	case len(args) == 1 && args[0] == "status":
		runStatus(*serverURL)
		return
	case len(args) != 1:
		fmt.Fprintln(os.Stderr, "Usage: imagectl [flags] <directory> | status | unload")
		flag.PrintDefaults()
		os.Exit(1)
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		fatalf("bad directory %q: %v", args[0], err)
	}

	c := client.New(client.Config{BaseURL: *serverURL})

	if !waitForServer(c, *wait) {
		fatalf("server at %s is not reachable", *serverURL)
	}

	if *unloadFirst {
		if _, err := c.Unload(); err != nil {
			fatalf("unload failed: %v", err)
		}
		fmt.Println("Previous directory unloaded.")
	}

	var timeoutArg *int
	if *timeout >= 0 {
		timeoutArg = timeout
	}

	start := time.Now()
	loadResp, err := c.Load(dir, timeoutArg)
	if err != nil {
		fatalf("load failed: %v", err)
	}
	fmt.Printf("%s (%.2fs)\n", loadResp.Message, time.Since(start).Seconds())
	fmt.Println(loadResp.Timeout)

	info, err := c.Status()
	if err != nil {
		fatalf("status failed: %v", err)
	}

	if *verify {
		failed := verifyImages(c, info.ImageList, *workers)
		if failed > 0 {
			fatalf("%d of %d images failed verification", failed, len(info.ImageList))
		}
		fmt.Printf("Verified %d images.\n", len(info.ImageList))
	}

	manifest := c.BuildManifest(info)
	path, err := client.WriteManifest(manifest, *output, *name)
	if err != nil {
		fatalf("manifest write failed: %v", err)
	}
	fmt.Printf("Manifest written: %s (%d URLs)\n", path, manifest.Count)
}

func runUnload(serverURL string) {
	c := client.New(client.Config{BaseURL: serverURL})
	resp, err := c.Unload()
	if err != nil {
		fatalf("unload failed: %v", err)
	}
	fmt.Println(resp.Message)
}

func runStatus(serverURL string) {
	c := client.New(client.Config{BaseURL: serverURL})
	info, err := c.Status()
	if err != nil {
		fatalf("status failed: %v", err)
	}
	if info.CurrentDirectory == "" {
		fmt.Println("No directory loaded.")
		return
	}
	fmt.Printf("Directory: %s\n", info.CurrentDirectory)
	fmt.Printf("Images:    %d\n", info.ImageCount)
	fmt.Printf("Loaded at: %s\n", info.LoadTime)
	if info.TimeRemaining != "" {
		fmt.Printf("Unloads:   %s (%s remaining)\n", info.AutoUnloadAt, info.TimeRemaining)
	}
}

// waitForServer polls the status endpoint once per second.
func waitForServer(c *client.Client, seconds int) bool {
	for i := 0; i < seconds; i++ {
		if c.IsRunning() {
			return true
		}
		fmt.Printf("Waiting for server (attempt %d/%d)...\n", i+1, seconds)
		time.Sleep(time.Second)
	}
	return c.IsRunning()
}

// verifyImages fetches every image with a bounded worker pool and returns
// the number of failures.
func verifyImages(c *client.Client, names []string, workers int) int {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				if _, err := c.VerifyImage(name); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					fmt.Fprintf(os.Stderr, "verify %s: %v\n", name, err)
				}
			}
		}()
	}

	for _, name := range names {
		jobs <- name
	}
	close(jobs)
	wg.Wait()
	return failed
}

func defaultOutputDir() string {
	if v := os.Getenv("IMAGE_SERVER_OUTPUT"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "output/json"
	}
	return filepath.Join(home, "Documents", "LightweightImageServer", "output", "json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
