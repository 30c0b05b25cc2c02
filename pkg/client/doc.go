/*
Package client is the Go client for the Flotilla HTTP API.

It wraps the three operation endpoints and the readiness probe. Each
operation posts a JSON body and then follows the SSE response, calling
the OnLog callback per progress line and returning the terminal result:

	c := client.New("http://10.0.0.5:8080")
	result, err := c.Deploy(ctx, &api.DeployBody{
	    ServiceID: "svc-api",
	    Env:       "production",
	    ImageName: "api_v2.tar",
	}, func(msg, level string) {
	    fmt.Println(msg)
	})
	if err != nil {
	    // transport or protocol failure; the deploy may not have started
	}
	if !result.Success {
	    // the pipeline ran and failed: result.Error says why
	}

The two error channels are deliberate: err covers the conversation
with the server (unreachable host, undecodable body, broken stream),
Result covers the deployment itself. A busy lock or a failed health
gate surfaces inside Result, because the server reports it as a
terminal frame on the stream.

The CLI in cmd/flotilla is the main consumer.
*/
package client
