package cas

func NewCentralDummy(logfile string) *Central {
	ticketStore := newDummyTicketStore()
	userStore := newDummyUserStore()
	central := NewCentral(logfile, ticketStore, userStore, nil, newDummyHTTPSClient(200))
	return central
}
