package event

var factories = map[EventType]func() Event{
	EventTypePoolCreated:               func() Event { return &PoolCreated{} },
	EventTypePoolUpdated:               func() Event { return &PoolUpdated{} },
	EventTypeMetadataSet:               func() Event { return &MetadataSet{} },
	EventTypeEpochClosed:               func() Event { return &EpochClosed{} },
	EventTypeEpochExecuted:             func() Event { return &EpochExecuted{} },
	EventTypeLoanCreated:               func() Event { return &LoanCreated{} },
	EventTypeLoanBorrowed:              func() Event { return &LoanBorrowed{} },
	EventTypeLoanRepaid:                func() Event { return &LoanRepaid{} },
	EventTypeLoanWrittenOff:            func() Event { return &LoanWrittenOff{} },
	EventTypeLoanClosed:                func() Event { return &LoanClosed{} },
	EventTypeLoanDebtTransferred:       func() Event { return &LoanDebtTransferred{} },
	EventTypeLoanDebtTransferredLegacy: func() Event { return &LoanDebtTransferredLegacy{} },
	EventTypeLoanDebtIncreased:         func() Event { return &LoanDebtIncreased{} },
	EventTypeLoanDebtDecreased:         func() Event { return &LoanDebtDecreased{} },
	EventTypeOracleFed:                 func() Event { return &OracleFed{} },
	EventTypeInvestOrderUpdated:        func() Event { return &InvestOrderUpdated{} },
	EventTypeRedeemOrderUpdated:        func() Event { return &RedeemOrderUpdated{} },
	EventTypeEVMTransfer:               func() Event { return &EVMTransfer{} },
	EventTypeEVMDeployTranche:          func() Event { return &EVMDeployTranche{} },
	EventTypeBlockTick:                 func() Event { return &BlockTick{} },
}

// New returns an empty payload for the event type, or nil if the type is unknown.
func New(et EventType) Event {
	f, ok := factories[et]
	if !ok {
		return nil
	}
	return f()
}
