package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/montagehq/montage/internal/cli"
	"github.com/montagehq/montage/internal/client"
)

// fakeBackend serves the job endpoints with canned answers.
type fakeBackend struct {
	mu           sync.Mutex
	createStatus int
	createBody   string
	statuses     []string
	polls        int
	artifact     []byte
	authHeaders  []string
}

func (b *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.authHeaders = append(b.authHeaders, req.Header.Get("Authorization"))
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(b.createStatus)
		_, _ = w.Write([]byte(b.createBody))
	})
	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		body := b.statuses[len(b.statuses)-1]
		if b.polls < len(b.statuses) {
			body = b.statuses[b.polls]
		}
		b.polls++
		_, _ = w.Write([]byte(body))
	})
	r.Get("/jobs/{id}/download", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(b.artifact)
	})
	return r
}

func run(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(dir, name string, data []byte) string {
	p := filepath.Join(dir, name)
	Expect(os.WriteFile(p, data, 0600)).To(Succeed())
	return p
}

var _ = Describe("commands", func() {
	var (
		backend *fakeBackend
		srv     *httptest.Server
		dir     string
		common  []string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "montage-cli")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, dir)

		backend = &fakeBackend{
			createStatus: http.StatusCreated,
			createBody:   `{"job_id":"job_1","status":"queued"}`,
			statuses: []string{
				`{"status":"processing","progress":{"percentage":40,"stage":"rendering"}}`,
				`{"status":"completed","progress":{"percentage":100}}`,
			},
			artifact: bytes.Repeat([]byte{7}, 4096),
		}
		srv = httptest.NewServer(backend.router())
		DeferCleanup(srv.Close)

		common = []string{
			"--config", filepath.Join(dir, "missing.yaml"),
			"--server-url", srv.URL,
			"--poll-interval", "10ms",
			"--poll-timeout", "5s",
		}
	})

	Describe("submit", func() {
		var clip string

		BeforeEach(func() {
			clip = writeFile(dir, "clip.mp4", bytes.Repeat([]byte{1}, 2048))
		})

		It("uploads the video and waits for the montage", func() {
			out, err := run(cli.NewCmdSubmit(), append([]string{clip, "-o", "json", "--duration", "30"}, common...)...)
			Expect(err).To(BeNil())

			result := map[string]any{}
			Expect(json.Unmarshal([]byte(out), &result)).To(Succeed())
			Expect(result["state"]).To(Equal("done"))
			Expect(result["jobId"]).To(Equal("job_1"))
			Expect(result["progress"]).To(BeNumerically("==", 100))
			Expect(result["artifactUrl"]).To(Equal(srv.URL + "/jobs/job_1/download?format=landscape"))
		})

		It("saves the montage when asked to", func() {
			target := filepath.Join(dir, "out")
			_, err := run(cli.NewCmdSubmit(), append([]string{clip, "-o", "yaml", "--save-to", target}, common...)...)
			Expect(err).To(BeNil())

			data, err := os.ReadFile(filepath.Join(target, "montage-job_1-landscape.mp4"))
			Expect(err).To(BeNil())
			Expect(data).To(Equal(backend.artifact))
		})

		It("returns right after creation with --no-wait", func() {
			backend.statuses = []string{`{"status":"running","progress":null}`}

			out, err := run(cli.NewCmdSubmit(), append([]string{clip, "--no-wait", "-o", "json"}, common...)...)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(`"jobId": "job_1"`))
			Expect(out).To(ContainSubstring(`"state": "processing"`))
		})

		It("uploads every video found in an archive", func() {
			buf := &bytes.Buffer{}
			zw := zip.NewWriter(buf)
			for _, name := range []string{"a.mp4", "b.mov", "notes.txt"} {
				f, err := zw.Create(name)
				Expect(err).To(BeNil())
				_, err = f.Write([]byte("content of " + name))
				Expect(err).To(BeNil())
			}
			Expect(zw.Close()).To(Succeed())
			archive := writeFile(dir, "footage.zip", buf.Bytes())

			out, err := run(cli.NewCmdSubmit(), append([]string{archive, "-o", "json"}, common...)...)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(`"kind": "archive"`))
			Expect(out).To(ContainSubstring(`"name": "b.mov"`))
			Expect(out).NotTo(ContainSubstring("notes.txt"))
		})

		It("reports the backend detail when the upload is rejected", func() {
			backend.createStatus = http.StatusUnprocessableEntity
			backend.createBody = `{"detail":"quota exceeded"}`

			_, err := run(cli.NewCmdSubmit(), append([]string{clip}, common...)...)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(Equal("upload failed: quota exceeded"))
		})

		It("reports the processing error of a failed job", func() {
			backend.statuses = []string{`{"status":"failed","progress":null,"error":"bad codec"}`}

			_, err := run(cli.NewCmdSubmit(), append([]string{clip, "-o", "json"}, common...)...)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(Equal("processing failed: bad codec"))
		})

		It("rejects files that are neither videos nor archives", func() {
			notes := writeFile(dir, "notes.txt", []byte("hello"))

			_, err := run(cli.NewCmdSubmit(), append([]string{notes}, common...)...)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("unsupported file type"))
			Expect(backend.authHeaders).To(BeEmpty())
		})

		DescribeTable("validates its flags before uploading",
			func(flags []string, msg string) {
				_, err := run(cli.NewCmdSubmit(), append(append([]string{clip}, flags...), common...)...)
				Expect(err).NotTo(BeNil())
				Expect(err.Error()).To(ContainSubstring(msg))
				Expect(backend.authHeaders).To(BeEmpty())
			},
			Entry("duration too short", []string{"--duration", "0"}, "duration must be between"),
			Entry("duration too long", []string{"--duration", "3601"}, "duration must be between"),
			Entry("unknown format", []string{"--format", "cinema"}, "format must be one of"),
			Entry("unknown output", []string{"-o", "xml"}, "output format must be one of"),
			Entry("no-wait with save-to", []string{"--no-wait", "--save-to", "out"}, "--save-to cannot be combined"),
		)
	})

	Describe("status", func() {
		It("prints a single status read", func() {
			out, err := run(cli.NewCmdStatus(), append([]string{"job_1", "-o", "json"}, common...)...)
			Expect(err).To(BeNil())

			result := map[string]any{}
			Expect(json.Unmarshal([]byte(out), &result)).To(Succeed())
			Expect(result["class"]).To(Equal("processing"))
			Expect(result["progress"]).To(HaveKeyWithValue("stage", "rendering"))
			Expect(result).NotTo(HaveKey("artifactUrl"))
		})

		It("prints the status as text", func() {
			backend.statuses = []string{`{"status":"done","progress":"{\"percentage\": 100}"}`}

			out, err := run(cli.NewCmdStatus(), append([]string{"job_1", "--format", "square"}, common...)...)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("job job_1: succeeded 100%"))
			Expect(out).To(ContainSubstring("artifact: " + srv.URL + "/jobs/job_1/download?format=square"))
		})

		It("follows the job with --watch", func() {
			out, err := run(cli.NewCmdStatus(), append([]string{"job_1", "--watch", "-o", "json"}, common...)...)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(`"state": "done"`))
			Expect(backend.polls).To(BeNumerically(">=", 2))
		})

		It("sends the token from the client config file", func() {
			var (
				mu   sync.Mutex
				seen string
			)
			tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				mu.Lock()
				seen = req.Header.Get("Authorization")
				mu.Unlock()
				_, _ = w.Write([]byte(`{"status":"queued","progress":null}`))
			}))
			DeferCleanup(tokenSrv.Close)

			cfgPath := filepath.Join(dir, "client.yaml")
			Expect(client.WriteConfig(cfgPath, tokenSrv.URL, "opaque-token")).To(Succeed())

			out, err := run(cli.NewCmdStatus(), "job_1", "--config", cfgPath)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("job job_1: pending"))

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(Equal("Bearer opaque-token"))
		})
	})

	Describe("download", func() {
		It("writes the artifact into the target directory", func() {
			target := filepath.Join(dir, "montages")
			out, err := run(cli.NewCmdDownload(), append([]string{"job_1", "--dir", target, "--format", "portrait"}, common...)...)
			Expect(err).To(BeNil())

			p := filepath.Join(target, "montage-job_1-portrait.mp4")
			Expect(out).To(ContainSubstring("montage saved to " + p))
			data, err := os.ReadFile(p)
			Expect(err).To(BeNil())
			Expect(data).To(Equal(backend.artifact))
		})

		It("requires an endpoint for bucket uploads", func() {
			_, err := run(cli.NewCmdDownload(), append([]string{"job_1", "--bucket", "montages"}, common...)...)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("--endpoint is required"))
		})
	})

	Describe("inspect", func() {
		It("lists the videos of a selection", func() {
			clip := writeFile(dir, "clip.mov", bytes.Repeat([]byte{1}, 1024))

			out, err := run(cli.NewCmdInspect(), clip)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("clip.mov (video): 1 video(s), 1.0 KiB"))
			Expect(out).To(MatchRegexp(`clip\.mov\s+video/quicktime\s+1\.0 KiB`))
		})
	})

	Describe("config init", func() {
		It("writes a client config that later commands read", func() {
			cfgPath := filepath.Join(dir, "nested", "client.yaml")
			out, err := run(cli.NewCmdConfig(), "init", "--config", cfgPath, "--server-url", srv.URL)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("client config written to " + cfgPath))

			cfg, err := client.ParseConfigFile(cfgPath)
			Expect(err).To(BeNil())
			Expect(cfg.Service.Server).To(Equal(srv.URL))
		})

		It("refuses an invalid server url", func() {
			_, err := run(cli.NewCmdConfig(), "init", "--config", filepath.Join(dir, "client.yaml"), "--server-url", "not a url")
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("version", func() {
		It("prints structured version information", func() {
			out, err := run(cli.NewCmdVersion(), "-o", "json")
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(`"versionName"`))
		})
	})
})
