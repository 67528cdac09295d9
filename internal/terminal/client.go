package terminal

import (
	"log"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/rectcircle/udpstream/internal/udpstream"
	"github.com/rectcircle/udpstream/tools"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Connect - open an interactive shell on a simplesshd server through the
// reliable udp stream, with the local terminal in raw mode
func Connect(host string, port uint16) {
	endpoint, session, err := udpstream.Dial(host, port)
	tools.LogAndExitIfErr(err)
	defer endpoint.Close()

	username := "root"
	if u, err2 := user.Current(); err2 == nil {
		username = u.Username
	}
	// the server is NoClientAuth, the "none" method is enough
	config := &ssh.ClientConfig{
		User:            username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	addr := tools.ToAddressString(host, port)
	sshConn, channels, requests, err3 := ssh.NewClientConn(session, addr, config)
	tools.LogAndExitIfErr(err3)
	client := ssh.NewClient(sshConn, channels, requests)
	defer client.Close()

	sshSession, err4 := client.NewSession()
	tools.LogAndExitIfErr(err4)
	defer sshSession.Close()

	// Set stdin in raw mode.
	fd := int(os.Stdin.Fd())
	oldState, err5 := term.MakeRaw(fd)
	tools.LogAndExitIfErr(err5)
	defer term.Restore(fd, oldState)

	width, height, err6 := term.GetSize(fd)
	if err6 != nil {
		width, height = 80, 24
	}

	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm-256color"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	err7 := sshSession.RequestPty(termType, height, width, modes)
	tools.LogAndExitIfErr(err7)

	// Handle terminal size changes.
	termWinChangeChannel := make(chan os.Signal, 1)
	signal.Notify(termWinChangeChannel, syscall.SIGWINCH)
	defer signal.Stop(termWinChangeChannel)
	go func() {
		for range termWinChangeChannel {
			w, h, err8 := term.GetSize(fd)
			if err8 != nil {
				continue
			}
			if err9 := sshSession.WindowChange(h, w); err9 != nil {
				log.Printf("error resizing remote pty: %s", err9)
			}
		}
	}()

	sshSession.Stdin = os.Stdin
	sshSession.Stdout = os.Stdout
	sshSession.Stderr = os.Stderr

	err10 := sshSession.Shell()
	tools.LogAndExitIfErr(err10)
	sshSession.Wait()
}
