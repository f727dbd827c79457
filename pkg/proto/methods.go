package proto

// RPC method names.
const (
	MethodIngestPage        = "Node.IngestPage"
	MethodEnqueueURL        = "Node.EnqueueURL"
	MethodEnqueueURLTracked = "Node.EnqueueURLTracked"
	MethodDequeueURL        = "Node.DequeueURL"
	MethodSearch            = "Node.Search"
	MethodInLinks           = "Node.InLinks"
	MethodStats             = "Node.Stats"
	MethodResetSender       = "Node.ResetSender"
	MethodExport            = "Node.Export"

	// Every sequenced sender (driver, dispatcher) serves MethodResend.
	MethodResend = "Sender.Resend"

	MethodNodeUp = "Driver.NodeUp"

	MethodDispatchSearch  = "Dispatcher.Search"
	MethodDispatchAddURL  = "Dispatcher.AddURL"
	MethodDispatchInLinks = "Dispatcher.InLinks"
	MethodDispatchStats   = "Dispatcher.Stats"
)
