// Package workstation schedules network work against a foreground and a
// background transport session.
//
// Every submission becomes a Worker. Workers with equal requests share one
// transport task, so a request is fetched once no matter how many callers
// ask for it. Callers that prefer their own transfer submit with enqueue
// set: they wait in a FIFO queue and start once the running task of their
// request terminates.
//
// Progress is fanned out to the leeches of each worker. Every leech sees
// the terminal state of its worker exactly once.
//
//	ws := workstation.New(workstation.WithClient("app/1.0"), workstation.WithStore(st))
//	defer ws.Close()
//
//	ws.Perform(workstation.Download(req, workstation.Background), uuid.New(), false,
//		func(out network.Output) {
//			fmt.Println(out.ID, out.Progress)
//		})
//
// Get and Fetch wrap short work that decodes a JSON response.
package workstation
