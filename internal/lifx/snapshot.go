package lifx

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Snapshot is a point-in-time read of the device/group/scene directory.
// It is immutable after Build; consumers may share it freely across goroutines.
type Snapshot struct {
	TakenAt time.Time
	Devices []Device
	Scenes  []Scene
	Groups  []Group

	deviceByID    map[string]*Device
	deviceByLabel map[string]*Device
	groupByID     map[string]*Group
	groupByName   map[string]*Group
	sceneByUUID   map[string]*Scene
}

// BuildSnapshot indexes a directory read. Groups are derived from device
// membership, they are not stored independently by the cloud.
func BuildSnapshot(devices []Device, scenes []Scene) *Snapshot {
	s := &Snapshot{
		TakenAt:       time.Now(),
		Devices:       devices,
		Scenes:        scenes,
		deviceByID:    make(map[string]*Device, len(devices)),
		deviceByLabel: make(map[string]*Device, len(devices)),
		groupByID:     make(map[string]*Group),
		groupByName:   make(map[string]*Group),
		sceneByUUID:   make(map[string]*Scene, len(scenes)),
	}

	var groupOrder []string
	groupNames := make(map[string]string)
	groupMembers := make(map[string][]string)

	for i := range devices {
		d := &devices[i]
		s.deviceByID[d.ID] = d
		s.deviceByLabel[strings.ToLower(d.Label)] = d

		if d.Group == nil || d.Group.ID == "" {
			continue
		}
		if _, seen := groupMembers[d.Group.ID]; !seen {
			groupOrder = append(groupOrder, d.Group.ID)
			groupNames[d.Group.ID] = d.Group.Name
		}
		groupMembers[d.Group.ID] = append(groupMembers[d.Group.ID], d.ID)
	}

	for _, id := range groupOrder {
		s.Groups = append(s.Groups, Group{ID: id, Name: groupNames[id], Devices: groupMembers[id]})
	}
	for i := range s.Groups {
		s.groupByID[s.Groups[i].ID] = &s.Groups[i]
		s.groupByName[strings.ToLower(s.Groups[i].Name)] = &s.Groups[i]
	}

	for i := range scenes {
		s.sceneByUUID[scenes[i].UUID] = &scenes[i]
	}

	return s
}

// DeviceByID returns the device with the given id, or nil
func (s *Snapshot) DeviceByID(id string) *Device {
	return s.deviceByID[id]
}

// DeviceByLabel returns the device with the given label (case-insensitive), or nil
func (s *Snapshot) DeviceByLabel(label string) *Device {
	return s.deviceByLabel[strings.ToLower(label)]
}

// GroupByID returns the group with the given id, or nil
func (s *Snapshot) GroupByID(id string) *Group {
	return s.groupByID[id]
}

// GroupByName returns the group with the given name (case-insensitive), or nil
func (s *Snapshot) GroupByName(name string) *Group {
	return s.groupByName[strings.ToLower(name)]
}

// SceneByUUID returns the scene with the given uuid, or nil
func (s *Snapshot) SceneByUUID(uuid string) *Scene {
	return s.sceneByUUID[uuid]
}

// DeviceLabels returns the labels of all devices in the snapshot
func (s *Snapshot) DeviceLabels() []string {
	return lo.Map(s.Devices, func(d Device, _ int) string { return d.Label })
}

// GroupOfDevice returns the group a device belongs to, or nil
func (s *Snapshot) GroupOfDevice(id string) *Group {
	d := s.deviceByID[id]
	if d == nil || d.Group == nil {
		return nil
	}
	return s.groupByID[d.Group.ID]
}
