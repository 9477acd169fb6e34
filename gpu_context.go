// gpu_context.go - Vulkan instance/device/queue/command-buffer/fence setup

package main

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// readbackFenceTimeoutNanos bounds how long Extract waits on the GPU
// fence before giving up on a cycle: 100ms, generous for a single
// blit-chain-and-4-byte-copy but short enough that a wedged GPU
// doesn't stall the whole daemon.
const readbackFenceTimeoutNanos = 100 * 1e6

// GPUContext holds the reusable Vulkan handles the luma extractor
// blits and reads back through: one instance, one physical/logical
// device pair with a single graphics queue, one command pool, one
// primary command buffer, a 4-byte host-visible readback buffer and
// one unsignalled fence. Created once at startup and destroyed once
// at shutdown; every cycle reuses the same command buffer and fence
// rather than allocating fresh ones.
type GPUContext struct {
	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32
	commandPool    vk.CommandPool
	commandBuffer  vk.CommandBuffer
	fence          vk.Fence

	readback       vk.Buffer
	readbackMemory vk.DeviceMemory
}

// NewGPUContext performs the full init chain. There is no fallback
// GPU path, so any failure here is expected to be fatal to the
// process; the caller is expected to log and exit non-zero.
func NewGPUContext() (*GPUContext, error) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("gpu: load vulkan library: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("gpu: init vulkan loader: %w", err)
	}

	g := &GPUContext{}
	if err := g.createInstance(); err != nil {
		return nil, err
	}
	if err := g.selectPhysicalDevice(); err != nil {
		g.destroyInstance()
		return nil, err
	}
	if err := g.createDevice(); err != nil {
		g.destroyInstance()
		return nil, err
	}
	if err := g.createCommandPool(); err != nil {
		g.destroyDevice()
		g.destroyInstance()
		return nil, err
	}
	if err := g.createCommandBuffer(); err != nil {
		g.destroyCommandPool()
		g.destroyDevice()
		g.destroyInstance()
		return nil, err
	}
	if err := g.createReadbackBuffer(); err != nil {
		g.destroyCommandPool()
		g.destroyDevice()
		g.destroyInstance()
		return nil, err
	}
	if err := g.createFence(); err != nil {
		g.destroyReadbackBuffer()
		g.destroyCommandPool()
		g.destroyDevice()
		g.destroyInstance()
		return nil, err
	}
	return g, nil
}

func (g *GPUContext) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString("wluma"),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("wluma-luma-extractor"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("gpu: vkCreateInstance failed: %d", res)
	}
	g.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (g *GPUContext) selectPhysicalDevice() error {
	var count uint32
	vk.EnumeratePhysicalDevices(g.instance, &count, nil)
	if count == 0 {
		return fmt.Errorf("gpu: no vulkan-capable devices found")
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(g.instance, &count, devices)

	for _, device := range devices {
		var qfCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &qfCount, nil)
		families := make([]vk.QueueFamilyProperties, qfCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &qfCount, families)
		for i, qf := range families {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				g.physicalDevice = device
				g.queueFamily = uint32(i)
				return nil
			}
		}
	}
	return fmt.Errorf("gpu: no device with a graphics queue found")
}

func (g *GPUContext) createDevice() error {
	priority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: g.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{priority},
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}
	var device vk.Device
	if res := vk.CreateDevice(g.physicalDevice, &createInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("gpu: vkCreateDevice failed: %d", res)
	}
	g.device = device
	var queue vk.Queue
	vk.GetDeviceQueue(device, g.queueFamily, 0, &queue)
	g.queue = queue
	return nil
}

func (g *GPUContext) createCommandPool() error {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: g.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(g.device, &info, nil, &pool); res != vk.Success {
		return fmt.Errorf("gpu: vkCreateCommandPool failed: %d", res)
	}
	g.commandPool = pool
	return nil
}

func (g *GPUContext) createCommandBuffer() error {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        g.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(g.device, &info, buffers); res != vk.Success {
		return fmt.Errorf("gpu: vkAllocateCommandBuffers failed: %d", res)
	}
	g.commandBuffer = buffers[0]
	return nil
}

// createReadbackBuffer allocates the 4-byte host-visible buffer the
// extractor maps after every cycle.
func (g *GPUContext) createReadbackBuffer() error {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        4,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(g.device, &info, nil, &buffer); res != vk.Success {
		return fmt.Errorf("gpu: vkCreateBuffer (readback) failed: %d", res)
	}
	g.readback = buffer

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(g.device, buffer, &reqs)
	reqs.Deref()

	typeIndex, err := g.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(g.device, &allocInfo, nil, &memory); res != vk.Success {
		return fmt.Errorf("gpu: vkAllocateMemory (readback) failed: %d", res)
	}
	g.readbackMemory = memory
	vk.BindBufferMemory(g.device, buffer, memory, 0)
	return nil
}

func (g *GPUContext) createFence() error {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(g.device, &info, nil, &fence); res != vk.Success {
		return fmt.Errorf("gpu: vkCreateFence failed: %d", res)
	}
	g.fence = fence
	return nil
}

// findMemoryType scans the physical device's memory properties for a
// type matching both typeFilter and properties. Design note: unlike
// the source this is rewritten from (which hard-codes memory type
// index 0), this always consults vkGetPhysicalDeviceMemoryProperties,
// which is strictly more portable and still satisfies the simplified
// behaviour on the common single-heap Linux drivers the hard-coded
// index targeted.
func (g *GPUContext) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(g.physicalDevice, &props)
	props.Deref()

	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		props.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && props.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("gpu: no suitable memory type for filter %#x properties %#x", typeFilter, properties)
}

// Close waits for outstanding GPU work, then tears every handle down
// in reverse creation order.
func (g *GPUContext) Close() {
	vk.DeviceWaitIdle(g.device)
	g.destroyFence()
	g.destroyReadbackBuffer()
	g.destroyCommandPool()
	g.destroyDevice()
	g.destroyInstance()
}

func (g *GPUContext) destroyFence() {
	if g.fence != vk.NullFence {
		vk.DestroyFence(g.device, g.fence, nil)
	}
}

func (g *GPUContext) destroyReadbackBuffer() {
	if g.readback != vk.NullBuffer {
		vk.DestroyBuffer(g.device, g.readback, nil)
	}
	if g.readbackMemory != vk.NullDeviceMemory {
		vk.FreeMemory(g.device, g.readbackMemory, nil)
	}
}

func (g *GPUContext) destroyCommandPool() {
	if g.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(g.device, g.commandPool, nil)
	}
}

func (g *GPUContext) destroyDevice() {
	if g.device != vk.NullDevice {
		vk.DestroyDevice(g.device, nil)
	}
}

func (g *GPUContext) destroyInstance() {
	if g.instance != vk.NullInstance {
		vk.DestroyInstance(g.instance, nil)
	}
}

// safeString null-terminates s for Vulkan's *char fields, the same
// helper voodoo_vulkan.go uses for its own instance/device info.
func safeString(s string) string {
	return s + "\x00"
}
