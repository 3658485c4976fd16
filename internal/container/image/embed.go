// Package image embeds the container build file for the llmdeploy service.
package image

import _ "embed"

// ContainerPort is the port the service listens on inside the container.
const ContainerPort = 7860

// ContainerUID is the non-root user the service runs as.
const ContainerUID = 1000

//go:embed Dockerfile
var Dockerfile []byte
