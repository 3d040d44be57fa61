package domain

// Module one slavedevice row: a physical hardware unit of a tenant.
type Module struct {
	ModuleID         int64  // slavedeviceid
	SlaveAddress     int    // slaveaddress, unique per tenant among active modules
	DeviceTypeID     int    // slavedevid
	DeviceID         int64  // deviceid, owning controller
	CurrentConfig    string // curconfig
	WantedConfig     string // wantedconfig
	UnoccupiedConfig string // unoccupiedconfig
	SWVersion        string // swversion
}

// Controller one device row: the addressable parent of a module.
type Controller struct {
	DeviceID   int64
	Address    int64
	DeviceType int // devid
}

// PendingCommand one sendlist row awaiting delivery by the external dispatcher.
type PendingCommand struct {
	Priority    int
	Sureness    int
	StartTime   string
	RetriesToDo int
	LastTry     string
	Comment     string
	Address     int64
	DeviceType  int
	Command     int
	MsgData     string
	NewPinCode  int
	FollowingID *int64
}
