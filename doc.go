// Package zof is a controller framework for the OpenFlow network-management
// protocol. It supervises an oftr helper subprocess that terminates
// OpenFlow connections from switches (datapaths) and translates the wire
// protocol to and from JSON, demultiplexes the helper's notifications into
// per-datapath event streams, and dispatches them to user-supplied
// handlers with lifecycle guarantees tied to the connection.
//
// A minimal controller:
//
//	ctrl := zof.New(zof.Handlers{
//		OnChannelUp: zof.SyncHandler(func(dp *zof.Datapath, ev zof.Event) error {
//			log.Printf("datapath up: %s", dp.DPID())
//			return nil
//		}),
//	}, zof.WithListenEndpoints("6653"))
//	err := ctrl.Run(context.Background())
//
// Run blocks until a configured exit signal arrives or ctx is cancelled,
// at which point every live datapath receives CHANNEL_DOWN, all handler
// tasks are cancelled and joined, and the helper subprocess is stopped.
package zof
