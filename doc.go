// Package realtime provides a Go client for the household expense
// application's real-time event channel.
//
// The client owns one WebSocket connection at a time, authenticates it with a
// bearer token, and redispatches domain events (bill.created, loan.deleted,
// ...) to registered handlers. Unexpected disconnects are recovered with
// exponential backoff; token errors reported by the server trigger a single
// refresh-and-reconnect through the TokenSource.
//
// Basic usage:
//
//	client, err := realtime.NewClient(realtime.Config{
//	    APIURL: "https://holyhome.app/api",
//	}, realtime.StaticToken(accessToken))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub := client.On(realtime.EventBillCreated, func(ev realtime.Event) error {
//	    var bill struct {
//	        BillID string `json:"billId"`
//	    }
//	    return ev.Decode(&bill)
//	})
//	defer client.Off(sub)
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Print(err) // a reconnect is already scheduled for transport errors
//	}
package realtime
