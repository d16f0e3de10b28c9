package agent

// Msg is a control-mailbox message. Concrete types below are the Go
// analogue of the original source's Msg enum variants; a worker dispatches
// on concrete type via a type switch.
type Msg interface{ isMsg() }

// NewData is a new chunk for the whole slice: the data device writes its
// own chunk and fans NewDataChecksum out to every parity device.
type NewData struct {
	Slice int
	Data  []byte
}

// NewDataAt is a new chunk for one device only, used when a slice is being
// grown one data position at a time; it fans NewDataChecksumAt out instead.
type NewDataAt struct {
	Slice int
	Data  []byte
}

// NewDataChecksum carries a data chunk contribution to a parity device as
// part of a whole-slice write; the receiving worker aggregates it in its
// pending-parity table.
type NewDataChecksum struct {
	Slice      int
	Data       []byte
	FromDevice int
}

// NewDataChecksumAt is the single-position counterpart: the parity device
// folds the contribution directly into its on-disk parity file.
type NewDataChecksumAt struct {
	Slice      int
	Data       []byte
	FromDevice int
}

// UpdateData overwrites a data chunk and fans UpdateDataChecksum out to
// every parity device with the delta.
type UpdateData struct {
	Slice int
	Data  []byte
}

// UpdateDataChecksum carries an update delta to a parity device.
type UpdateDataChecksum struct {
	Slice      int
	Diff       []byte
	FromDevice int
}

// NeedRecover asks a peer for its chunk of Slice during recovery.
type NeedRecover struct {
	Slice      int
	FromDevice int
}

// HeadNodeDataRequest is a synchronous read: the controller sends it with a
// one-shot reply channel and blocks until the worker answers.
type HeadNodeDataRequest struct {
	Slice int
	Reply chan Chunk
}

// DestroyStorage simulates total loss of this device's storage and starts
// the cooperative recovery protocol for every slice up to MaxSlice.
type DestroyStorage struct {
	MaxSlice int
}

// Ping is a quiescence barrier: the worker answers once every message
// enqueued before it has been processed.
type Ping struct {
	Reply chan struct{}
}

// Shutdown terminates the worker after it drains anything already queued.
type Shutdown struct{}

func (NewData) isMsg()             {}
func (NewDataAt) isMsg()           {}
func (NewDataChecksum) isMsg()     {}
func (NewDataChecksumAt) isMsg()   {}
func (UpdateData) isMsg()          {}
func (UpdateDataChecksum) isMsg()  {}
func (NeedRecover) isMsg()         {}
func (HeadNodeDataRequest) isMsg() {}
func (DestroyStorage) isMsg()      {}
func (Ping) isMsg()                {}
func (Shutdown) isMsg()            {}

// Chunk is a data chunk returned by HeadNodeDataRequest.
type Chunk struct {
	Slice int
	Data  []byte
}

// RecoverMsg is the sole recovery-mailbox message: a peer's reply to
// NeedRecover, carrying either a data or a parity chunk (the recipient
// classifies which by the sender's device index and the slice).
type RecoverMsg struct {
	Slice      int
	Data       []byte
	FromDevice int
}
