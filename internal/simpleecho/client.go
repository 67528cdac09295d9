package simpleecho

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/rectcircle/udpstream/internal/udpstream"
	"github.com/rectcircle/udpstream/internal/udpstream/protocol"
	"github.com/rectcircle/udpstream/tools"
)

// Client - connect to echo server
func Client(host string, port uint16) {
	// open a session to the server
	endpoint, session, err := udpstream.Dial(host, port)
	tools.LogAndExitIfErr(err)
	defer endpoint.Close()
	defer session.Close()
	var buffer = make([]byte, 4096)
	for {
		var line string
		// read from stdin
		fmt.Scanln(&line)
		var lineLen = len(line)
		// write to session
		session.Write([]byte(line))
		// read the echo back
		for lineLen > 0 {
			n, err2 := session.Read(buffer)
			if err2 != nil {
				if errors.Is(err2, protocol.ErrPeerClosed) {
					log.Println("Server close")
					os.Exit(0)
				}
				break
			}
			lineLen -= n
			os.Stdout.Write(buffer[:n])
		}
		// append a `\n`
		os.Stdout.WriteString("\n")
	}
}
