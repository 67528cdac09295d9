package simpleecho

import (
	"io"
	"log"
	"net"

	"github.com/rectcircle/udpstream/internal/udpstream"
	"github.com/rectcircle/udpstream/tools"
)

// ListenAndServe - start a echo server
// and bind to `host:port` of UDP
func ListenAndServe(host string, port uint16) {
	addr := tools.ToAddressString(host, port)
	// Listen to udp addr
	endpoint, err := udpstream.Listen(host, port)
	tools.LogAndExitIfErr(err)
	log.Printf("Start a Echo Server Success! on %s\n", addr)
	for {
		// Wait a new session
		session, err2 := endpoint.Accept()
		tools.LogAndExitIfErr(err2)
		log.Printf("Client %s session success\n", session.RemoteAddr().String())
		// Serve a client session
		go serve(session)
	}
}

func serve(session net.Conn) {
	// copy to session.Write from session.Read
	n, err := io.Copy(session, session)
	reason := "client close"
	if err != nil {
		reason = err.Error()
	}
	log.Printf(
		"client %s session close, write %d byte, reason: %s\n",
		session.RemoteAddr().String(),
		n,
		reason,
	)
	session.Close()
}
