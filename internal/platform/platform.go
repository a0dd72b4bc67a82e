// Package platform inspects the host once per invocation. It reports the OS
// family and the sockets feature mounts may bind into the container.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/docker/docker/client"
)

// OS identifies the host operating system family.
type OS string

const (
	Linux OS = "linux"
	MacOS OS = "macos"
	WSL2  OS = "wsl2"
	Other OS = "other"
)

// Info is the result of a single host inspection.
type Info struct {
	OS OS

	// UIDMapping reports whether host UID:GID can be mapped into the
	// container and host passwd/group files bind-mounted.
	UIDMapping bool
	UID        int
	GID        int
	Home       string

	WaylandSocket string
	X11Socket     string
	// DisplayEnv holds the display variables set on the host.
	DisplayEnv map[string]string

	SSHAgentSocket string

	ContainerSocket    string
	ContainerSocketGID int // -1 when unknown

	// Terminal holds TERM and COLORTERM when set on the host.
	Terminal map[string]string
}

// PasswdMount reports whether /etc/passwd and /etc/group should be mounted.
func (i Info) PasswdMount() bool {
	return i.UIDMapping
}

// IsLinux is true for native Linux and WSL2.
func (i Info) IsLinux() bool {
	return i.OS == Linux || i.OS == WSL2
}

// HasDisplay reports whether a display server socket was found.
func (i Info) HasDisplay() bool {
	return i.WaylandSocket != "" || i.X11Socket != ""
}

// Probe abstracts every host lookup Detect performs.
type Probe struct {
	GOOS      string
	Getenv    func(key string) (string, bool)
	ReadFile  func(path string) ([]byte, error)
	Exists    func(path string) bool
	Glob      func(pattern string) ([]string, error)
	SocketGID func(path string) (int, bool)
	Home      string
	UID       int
	GID       int
}

// HostProbe returns a Probe backed by the real host.
func HostProbe() Probe {
	home, _ := os.UserHomeDir()
	return Probe{
		GOOS:     runtime.GOOS,
		Getenv:   os.LookupEnv,
		ReadFile: os.ReadFile,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		Glob:      filepath.Glob,
		SocketGID: socketGID,
		Home:      home,
		UID:       os.Getuid(),
		GID:       os.Getgid(),
	}
}

// Detect inspects the current host. It never fails; missing capabilities
// are left empty in the returned Info.
func Detect() Info {
	return DetectWith(HostProbe())
}

// DetectWith inspects the host through p.
func DetectWith(p Probe) Info {
	info := Info{
		OS:                 detectOS(p),
		Home:               p.Home,
		ContainerSocketGID: -1,
		DisplayEnv:         map[string]string{},
		Terminal:           map[string]string{},
	}

	info.UIDMapping = info.IsLinux()
	if info.UIDMapping {
		info.UID = p.UID
		info.GID = p.GID
	}

	for _, key := range []string{"TERM", "COLORTERM"} {
		if v, ok := p.Getenv(key); ok && v != "" {
			info.Terminal[key] = v
		}
	}

	info.SSHAgentSocket = sshAgentSocket(p, info.OS)

	if sock := containerSocket(p, info.OS); sock != "" {
		info.ContainerSocket = sock
		if info.IsLinux() && p.SocketGID != nil {
			if gid, ok := p.SocketGID(sock); ok {
				info.ContainerSocketGID = gid
			}
		}
	}

	if info.IsLinux() {
		detectDisplay(p, &info)
	}

	return info
}

func detectOS(p Probe) OS {
	switch p.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		data, err := p.ReadFile("/proc/version")
		if err == nil && strings.Contains(strings.ToLower(string(data)), "microsoft") {
			return WSL2
		}
		return Linux
	default:
		return Other
	}
}

func sshAgentSocket(p Probe, family OS) string {
	if sock, ok := p.Getenv("SSH_AUTH_SOCK"); ok && sock != "" && p.Exists(sock) {
		return sock
	}

	if family == MacOS {
		matches, err := p.Glob("/private/tmp/com.apple.launchd.*/Listeners")
		if err == nil {
			for _, m := range matches {
				if p.Exists(m) {
					return m
				}
			}
		}
	}
	return ""
}

// ContainerSocketCandidates lists the runtime sockets to try, in order.
func ContainerSocketCandidates(p Probe, family OS) []string {
	var candidates []string

	if host, ok := p.Getenv("DOCKER_HOST"); ok && host != "" {
		if u, err := client.ParseHostURL(host); err == nil && u.Scheme == "unix" {
			candidates = append(candidates, u.Host)
		}
	}

	if family == MacOS {
		return append(candidates,
			filepath.Join(p.Home, ".docker", "run", "docker.sock"),
			"/var/run/docker.sock",
		)
	}

	candidates = append(candidates,
		"/run/user/"+strconv.Itoa(p.UID)+"/podman/podman.sock",
		"/run/podman/podman.sock",
	)
	if u, err := client.ParseHostURL(client.DefaultDockerHost); err == nil && u.Scheme == "unix" {
		candidates = append(candidates, u.Host)
	}
	candidates = append(candidates, "/run/docker.sock")
	if xdg, ok := p.Getenv("XDG_RUNTIME_DIR"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "docker.sock"))
	}
	return candidates
}

func containerSocket(p Probe, family OS) string {
	for _, c := range ContainerSocketCandidates(p, family) {
		if p.Exists(c) {
			return c
		}
	}
	return ""
}

func detectDisplay(p Probe, info *Info) {
	for _, key := range []string{"WAYLAND_DISPLAY", "XDG_RUNTIME_DIR", "DISPLAY"} {
		if v, ok := p.Getenv(key); ok && v != "" {
			info.DisplayEnv[key] = v
		}
	}

	wayland, xdg := info.DisplayEnv["WAYLAND_DISPLAY"], info.DisplayEnv["XDG_RUNTIME_DIR"]
	if wayland != "" && xdg != "" {
		// Only the socket file, so the rest of the runtime dir stays private.
		sock := filepath.Join(xdg, wayland)
		if p.Exists(sock) {
			info.WaylandSocket = sock
			return
		}
	}

	if info.DisplayEnv["DISPLAY"] != "" && p.Exists("/tmp/.X11-unix") {
		info.X11Socket = "/tmp/.X11-unix"
	}
}
