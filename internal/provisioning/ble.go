package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

// GATT attribute UUIDs for the provisioning surface. Writers pair the
// device by these, so they never change.
const (
	ServiceUUID            = "623fa3e2-631b-4f8f-a6e7-a7b09c03e7e0"
	CharNetworkNameUUID    = "1fda4d6e-2f14-42b0-96fa-453bed238375"
	CharNetworkSecretUUID  = "a987ab18-a940-421a-a1d7-b94ee22bccbe"
	CharBackendAddressUUID = "cef520a9-bcb5-4fc6-87f7-82804eee2b20"
)

const (
	bluezBus     = "org.bluez"
	adapterPath  = dbus.ObjectPath("/org/bluez/hci0")
	gattMgrIface = "org.bluez.GattManager1"
	advMgrIface  = "org.bluez.LEAdvertisingManager1"

	appPath     = dbus.ObjectPath("/com/secondstate/echokit")
	servicePath = dbus.ObjectPath("/com/secondstate/echokit/service0")
	advPath     = dbus.ObjectPath("/com/secondstate/echokit/advertisement0")

	serviceIface = "org.bluez.GattService1"
	charIface    = "org.bluez.GattCharacteristic1"
	advIface     = "org.bluez.LEAdvertisement1"
	propsIface   = "org.freedesktop.DBus.Properties"
	omIface      = "org.freedesktop.DBus.ObjectManager"
)

// BLEServer registers a GATT application with BlueZ over the system bus and
// advertises the provisioning service. Characteristic reads and writes are
// delegated to the staging Service; a rejected write surfaces to the peer
// as a GATT error on the same operation.
type BLEServer struct {
	svc    *Service
	logger *zap.Logger
	name   string

	conn  *dbus.Conn
	chars []*characteristic
}

// NewBLEServer creates a server advertising under the given local name.
func NewBLEServer(svc *Service, name string, logger *zap.Logger) *BLEServer {
	return &BLEServer{svc: svc, logger: logger, name: name}
}

// Start connects to the system bus, exports the GATT object tree and asks
// BlueZ to register and advertise it.
func (b *BLEServer) Start(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("%w: system bus: %v", entities.ErrConnection, err)
	}
	b.conn = conn

	b.chars = []*characteristic{
		newCharacteristic(b, 0, CharNetworkNameUUID, entities.KeyNetworkName),
		newCharacteristic(b, 1, CharNetworkSecretUUID, entities.KeyNetworkSecret),
		newCharacteristic(b, 2, CharBackendAddressUUID, entities.KeyBackendAddress),
	}

	if err := b.export(); err != nil {
		conn.Close()
		return err
	}

	adapter := conn.Object(bluezBus, adapterPath)
	call := adapter.CallWithContext(ctx, gattMgrIface+".RegisterApplication", 0,
		appPath, map[string]dbus.Variant{})
	if call.Err != nil {
		conn.Close()
		return fmt.Errorf("%w: register gatt application: %v", entities.ErrConnection, call.Err)
	}

	call = adapter.CallWithContext(ctx, advMgrIface+".RegisterAdvertisement", 0,
		advPath, map[string]dbus.Variant{})
	if call.Err != nil {
		adapter.Call(gattMgrIface+".UnregisterApplication", 0, appPath)
		conn.Close()
		return fmt.Errorf("%w: register advertisement: %v", entities.ErrConnection, call.Err)
	}

	b.logger.Info("ble provisioning started",
		zap.String("local_name", b.name),
		zap.String("service_uuid", ServiceUUID))
	return nil
}

// Stop unregisters the application and drops the bus connection.
func (b *BLEServer) Stop() {
	if b.conn == nil {
		return
	}
	adapter := b.conn.Object(bluezBus, adapterPath)
	adapter.Call(advMgrIface+".UnregisterAdvertisement", 0, advPath)
	adapter.Call(gattMgrIface+".UnregisterApplication", 0, appPath)
	b.conn.Close()
	b.conn = nil
	b.logger.Info("ble provisioning stopped")
}

func (b *BLEServer) export() error {
	if err := b.conn.Export(b, appPath, omIface); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}

	svcProps := objectProps{serviceIface: {
		"UUID":    dbus.MakeVariant(ServiceUUID),
		"Primary": dbus.MakeVariant(true),
	}}
	if err := b.conn.Export(svcProps, servicePath, propsIface); err != nil {
		return fmt.Errorf("export service properties: %w", err)
	}

	for _, ch := range b.chars {
		if err := b.conn.Export(ch, ch.path, charIface); err != nil {
			return fmt.Errorf("export characteristic %s: %w", ch.key, err)
		}
		if err := b.conn.Export(ch.props(), ch.path, propsIface); err != nil {
			return fmt.Errorf("export characteristic properties %s: %w", ch.key, err)
		}
	}

	adv := &advertisement{name: b.name}
	if err := b.conn.Export(adv, advPath, advIface); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}
	if err := b.conn.Export(adv.props(), advPath, propsIface); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}
	return nil
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// application root. BlueZ walks this to discover the GATT tree.
func (b *BLEServer) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	tree := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		servicePath: {serviceIface: {
			"UUID":    dbus.MakeVariant(ServiceUUID),
			"Primary": dbus.MakeVariant(true),
		}},
	}
	for _, ch := range b.chars {
		tree[ch.path] = map[string]map[string]dbus.Variant{charIface: ch.props()[charIface]}
	}
	return tree, nil
}

// characteristic is one exported GATT characteristic bound to a single
// provisioning attribute.
type characteristic struct {
	server *BLEServer
	path   dbus.ObjectPath
	uuid   string
	key    string
}

func newCharacteristic(server *BLEServer, index int, uuid, key string) *characteristic {
	return &characteristic{
		server: server,
		path:   dbus.ObjectPath(fmt.Sprintf("%s/char%d", servicePath, index)),
		uuid:   uuid,
		key:    key,
	}
}

func (c *characteristic) props() objectProps {
	return objectProps{charIface: {
		"UUID":    dbus.MakeVariant(c.uuid),
		"Service": dbus.MakeVariant(servicePath),
		"Flags":   dbus.MakeVariant([]string{"read", "write"}),
	}}
}

// ReadValue implements org.bluez.GattCharacteristic1.ReadValue.
func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	value, err := c.server.svc.Read(context.Background(), c.key)
	if err != nil {
		c.server.logger.Error("ble read failed", zap.String("attribute", c.key), zap.Error(err))
		return nil, dbus.NewError("org.bluez.Error.Failed", []interface{}{err.Error()})
	}
	return value, nil
}

// WriteValue implements org.bluez.GattCharacteristic1.WriteValue. Invalid
// values come back to the writer as a GATT error.
func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if err := c.server.svc.Write(c.key, value); err != nil {
		if errors.Is(err, entities.ErrValidation) {
			return dbus.NewError("org.bluez.Error.InvalidValueLength", []interface{}{err.Error()})
		}
		return dbus.NewError("org.bluez.Error.Failed", []interface{}{err.Error()})
	}
	return nil
}

// advertisement is the LE advertisement BlueZ broadcasts for us.
type advertisement struct {
	name string
}

func (a *advertisement) props() objectProps {
	return objectProps{advIface: {
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{ServiceUUID}),
		"LocalName":    dbus.MakeVariant(a.name),
	}}
}

// Release implements org.bluez.LEAdvertisement1.Release.
func (a *advertisement) Release() *dbus.Error {
	return nil
}

// objectProps serves org.freedesktop.DBus.Properties for a static object.
type objectProps map[string]map[string]dbus.Variant

func (p objectProps) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	props, ok := p[iface]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
	}
	return v, nil
}

func (p objectProps) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	props, ok := p[iface]
	if !ok {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	return props, nil
}
