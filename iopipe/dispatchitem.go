package iopipe

// ItemKind tags the variant carried by a DispatchItem.
type ItemKind int

const (
	// KindItem carries a successfully decoded frame.
	KindItem ItemKind = iota
	// KindKeepAliveTimeout fires when no frame has arrived within the
	// configured keep-alive window.
	KindKeepAliveTimeout
	// KindEncoderError carries an error from Codec.Encode.
	KindEncoderError
	// KindDecoderError carries an error from Codec.Decode.
	KindDecoderError
	// KindIoError carries a transport read/write error.
	KindIoError
	// KindWBackPressureEnabled is informational: the write buffer
	// crossed its high watermark.
	KindWBackPressureEnabled
	// KindWBackPressureDisabled is informational: the write buffer
	// drained back to the low watermark.
	KindWBackPressureDisabled
)

// DispatchItem is the tagged variant the Dispatcher yields to the
// user Service. Only one of Frame/Err is meaningful, depending on
// Kind; for KindKeepAliveTimeout and the two informational
// back-pressure kinds neither is set, and the Service should answer
// the back-pressure kinds with a nil response.
type DispatchItem struct {
	Kind  ItemKind
	Frame Frame
	Err   error
}

func ItemFrame(f Frame) DispatchItem { return DispatchItem{Kind: KindItem, Frame: f} }
func ItemKeepAliveTimeout() DispatchItem {
	return DispatchItem{Kind: KindKeepAliveTimeout}
}
func ItemEncoderError(err error) DispatchItem {
	return DispatchItem{Kind: KindEncoderError, Err: err}
}
func ItemDecoderError(err error) DispatchItem {
	return DispatchItem{Kind: KindDecoderError, Err: err}
}
func ItemIoError(err error) DispatchItem {
	return DispatchItem{Kind: KindIoError, Err: err}
}
func ItemBackpressureEnabled() DispatchItem {
	return DispatchItem{Kind: KindWBackPressureEnabled}
}
func ItemBackpressureDisabled() DispatchItem {
	return DispatchItem{Kind: KindWBackPressureDisabled}
}
