// Package convsocket provides a resilient WebSocket client for the
// conversation backend of an interactive assistant.
//
// A [Client] owns the connection for one [ChannelKind]. It keeps the socket
// alive with ping/pong heartbeats, reconnects with exponential backoff when
// the socket drops, and refuses to open a second socket for a channel that
// another client already holds: a second client shares the first one's
// connection instead.
//
// # Thread Safety
//
// [Client], [ChannelRegistry] and [Router] are safe for concurrent use by
// multiple goroutines. A [Stream] should only be consumed by a single
// goroutine. Handlers run on the client's control loop in receive order.
//
// # Basic Usage
//
//	client, err := convsocket.New(convsocket.ChannelChat,
//	    convsocket.WithHost("api.example.com"),
//	    convsocket.WithSecure(true),
//	    convsocket.WithTokenProvider(tokens),
//	    convsocket.WithHandler(func(msg *convsocket.SocketMessage) {
//	        fmt.Println(msg.Type, msg.Content)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Wait()
//	defer client.Disconnect()
//
//	if err := client.Connect(ctx, ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.Send(42, "Summarize the meeting notes")
//	// later, once the server has assigned a session
//	client.Pause(42)
//	client.Resume(42, "Focus on action items")
//
// Commands report false instead of failing when the client is not open, or
// for Pause, Resume and Cancel when no session has been assigned yet.
//
// # Failures
//
// Failures the client gives up on (duplicate connection, exhausted retry
// budget, missing token) reach subscribers once as an error message.
// [TerminalError] returns the cause:
//
//	if err := convsocket.TerminalError(msg); err != nil {
//	    log.Printf("connection lost: %v", err)
//	}
//
// # Observability
//
// Use [WithLogger], [WithMetrics], [WithOnSend], [WithOnReceive],
// [WithOnStateChange] and [WithOnReconnect] to add logging and monitoring:
//
//	client, err := convsocket.New(convsocket.ChannelStatus,
//	    convsocket.WithLogger(logger),
//	    convsocket.WithMetrics(convsocket.NewMetrics(prometheus.DefaultRegisterer)),
//	    convsocket.WithOnStateChange(func(from, to convsocket.State) {
//	        logger.Info("state", zap.Stringer("to", to))
//	    }),
//	)
package convsocket
