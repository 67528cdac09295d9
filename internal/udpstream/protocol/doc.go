/*
Package protocol - MIT License Copyright (c) 2020, Rectcircle. All rights reserved.

This is the project core code - the ARQ engine that turns lossy UDP datagrams
into an ordered byte stream

1. Segment - fixed header codec, one segment per datagram

2. sendWindow / receiveWindow - in-flight bookkeeping, retransmission timing,
reorder and duplicate handling

3. Session - one peer, one byte stream, reader/writer semantics

Architecture diagram:

	       write([]byte)                                          read([]byte)
	            |                                                      ^
	            v                                                      |
	     +-------------+      +--------------+               +----------------+
	     | write queue |----->|  sendWindow  |--- DATA ----->| receiveWindow  |
	     +-------------+      |  (rtt/rto)   |<-- ACK/NACK --|  (reassembly)  |
	                          +--------------+               +----------------+
	            session.HandleSegment dispatches on the cmd byte,
	            session.Tick drives retransmission deadlines
*/
package protocol
