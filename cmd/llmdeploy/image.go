package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/radutopala/llmdeploy/internal/config"
	"github.com/radutopala/llmdeploy/internal/container"
	containerimage "github.com/radutopala/llmdeploy/internal/container/image"
)

// dockerClient is the subset of *container.Client used by the image commands.
type dockerClient interface {
	ImageList(ctx context.Context, imageName string) ([]string, error)
	ImageBuild(ctx context.Context, contextDir, dockerfile, tag string) error
	Run(ctx context.Context, cfg container.RunConfig) (string, error)
	Remove(ctx context.Context, containerID string) error
	List(ctx context.Context, labelKey, labelValue string) ([]string, error)
	Close() error
}

var newDockerClient = func() (dockerClient, error) {
	return container.NewClient()
}

func newDockerfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dockerfile",
		Short: "Print the embedded Dockerfile",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Print(string(containerimage.Dockerfile))
		},
	}
}

func newImageBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "image:build",
		Aliases: []string{"i:build"},
		Short:   "Build the service image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			contextDir, _ := cmd.Flags().GetString("context")
			tag, _ := cmd.Flags().GetString("tag")
			force, _ := cmd.Flags().GetBool("force")
			return imageBuild(cmd.Context(), contextDir, tag, force)
		},
	}
	cmd.Flags().String("context", ".", "Build context, a checkout of this module")
	cmd.Flags().String("tag", "", "Image tag (defaults to container_image)")
	cmd.Flags().Bool("force", false, "Rebuild even if the image exists")
	return cmd
}

func newImageRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "image:run",
		Aliases: []string{"i:run"},
		Short:   "Run the service image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			replace, _ := cmd.Flags().GetBool("replace")
			return imageRun(cmd.Context(), dataDir, replace)
		},
	}
	cmd.Flags().String("data-dir", "", "Host directory mounted at the service home")
	cmd.Flags().Bool("replace", false, "Remove running llmdeploy containers first")
	return cmd
}

func imageBuild(ctx context.Context, contextDir, tag string, force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := configLoad()
	if err != nil {
		return err
	}
	if tag == "" {
		tag = cfg.ContainerImage
	}

	client, err := newDockerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if !force {
		ids, err := client.ImageList(ctx, tag)
		if err != nil {
			return fmt.Errorf("listing images: %w", err)
		}
		if len(ids) > 0 {
			fmt.Printf("Image %s already exists (use --force to rebuild)\n", tag)
			return nil
		}
	}

	tmpDir, err := osMkdirTemp("", "llmdeploy-image-")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() { _ = osRemoveAll(tmpDir) }()

	dockerfile := filepath.Join(tmpDir, "Dockerfile")
	if err := osWriteFile(dockerfile, containerimage.Dockerfile, 0644); err != nil {
		return fmt.Errorf("writing Dockerfile: %w", err)
	}

	fmt.Printf("Building %s from %s\n", tag, contextDir)
	if err := client.ImageBuild(ctx, contextDir, dockerfile, tag); err != nil {
		return err
	}
	fmt.Printf("✓ Built %s\n", tag)
	return nil
}

func imageRun(ctx context.Context, dataDir string, replace bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := configLoad()
	if err != nil {
		return err
	}

	runCfg := container.RunConfig{
		Image:    cfg.ContainerImage,
		Name:     cfg.ContainerName,
		HostPort: cfg.HostPort,
		Env:      containerEnv(cfg),
	}
	if dataDir != "" {
		home, err := userHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		bind, err := container.DataBind(dataDir, []string{home})
		if err != nil {
			return err
		}
		runCfg.Binds = []string{bind}
	}

	client, err := newDockerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ids, err := client.ImageList(ctx, cfg.ContainerImage)
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("image %s not found (run 'llmdeploy image:build' first)", cfg.ContainerImage)
	}

	running, err := client.List(ctx, container.LabelKey, container.LabelValue)
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}
	if len(running) > 0 {
		if !replace {
			return fmt.Errorf("%d llmdeploy container(s) already exist (use --replace)", len(running))
		}
		for _, id := range running {
			if err := client.Remove(ctx, id); err != nil {
				return fmt.Errorf("removing container %s: %w", id, err)
			}
		}
	}

	id, err := client.Run(ctx, runCfg)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Started %s (%s) on port %d\n", runCfg.Name, shortID(id), runCfg.HostPort)
	return nil
}

// containerEnv forwards the settings the service needs inside the
// container. Empty values are left out so the image defaults apply.
func containerEnv(cfg *config.Config) []string {
	vars := []struct{ name, val string }{
		{"GITHUB_TOKEN", cfg.GitHubToken},
		{"GITHUB_OWNER", cfg.GitHubOwner},
		{"STUDENT_SECRET", cfg.StudentSecret},
		{"OPENAI_API_KEY", cfg.OpenAIAPIKey},
		{"OPENAI_BASE_URL", cfg.OpenAIBaseURL},
		{"OPENAI_MODEL", cfg.OpenAIModel},
		{"EVALUATION_URL", cfg.EvaluationURL},
		{"ENVIRONMENT", cfg.Environment},
		{"LOG_LEVEL", cfg.LogLevel},
		{"LOG_FORMAT", cfg.LogFormat},
	}
	env := make([]string, 0, len(vars))
	for _, v := range vars {
		if v.val != "" {
			env = append(env, v.name+"="+v.val)
		}
	}
	return env
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
